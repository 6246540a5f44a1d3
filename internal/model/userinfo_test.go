package model

import "testing"

func TestParseUserInfo(t *testing.T) {
	u, ok := ParseUserInfo("upload=100; download=200;total=1000; expire=1700000000; foo=bar")
	if !ok {
		t.Fatalf("expected ok")
	}
	if u.Upload != 100 || u.Download != 200 || u.Total != 1000 || u.Expire != 1700000000 {
		t.Fatalf("userinfo=%+v", *u)
	}

	if _, ok := ParseUserInfo("garbage"); ok {
		t.Fatalf("expected !ok for garbage header")
	}
	if _, ok := ParseUserInfo(""); ok {
		t.Fatalf("expected !ok for empty header")
	}
}

func TestUserInfo_AddAndHeader(t *testing.T) {
	a := UserInfo{Upload: 1, Download: 2, Total: 10, Expire: 200}
	b := UserInfo{Upload: 3, Download: 4, Total: 20, Expire: 100}
	got := a.Add(b).Header()
	want := "upload=4; download=6; total=30; expire=100"
	if got != want {
		t.Fatalf("header=%q, want=%q", got, want)
	}

	got = UserInfo{Total: 5}.Header()
	if got != "upload=0; download=0; total=5" {
		t.Fatalf("header=%q", got)
	}
}

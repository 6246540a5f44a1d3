package model

type FetchMethod string

const (
	FetchDirect   FetchMethod = "direct"
	FetchIndirect FetchMethod = "indirect"
	FetchFailed   FetchMethod = "failed"
)

// FetchResult is produced once per source fetch and never persisted.
type FetchResult struct {
	Success       bool
	Content       string
	UserAgentUsed string
	Method        FetchMethod
	Error         string
	UserInfo      *UserInfo
}

package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/submerge-go/internal/convert"
	"github.com/John-Robertt/submerge-go/internal/model"
	"github.com/John-Robertt/submerge-go/internal/pipeline"
	"github.com/John-Robertt/submerge-go/internal/uapolicy"
)

type subHandler struct {
	opt Options
	log logrus.FieldLogger
}

func (h subHandler) handleSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	w.Header().Set("Cache-Control", "no-store, no-cache")

	sel, err := h.opt.Pipeline.Select(ctx, r.PathValue("token"), r.PathValue("profile"))
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	format := uapolicy.TargetFormat(r.UserAgent(), q)

	var (
		nodes    string
		userInfo *model.UserInfo
		xcache   string
	)
	if sel.Expired {
		nodes, xcache = pipeline.ExpiredNode, "BYPASS"
	} else {
		res, err := h.opt.Cache.Resolve(ctx, sel.Key, forceRefresh(q), h.opt.Pipeline.Refresh(sel))
		if err != nil {
			writeErrorFromErr(w, err)
			return
		}
		nodes, userInfo, xcache = res.Content, res.UserInfo, strings.ToUpper(string(res.Status))
	}
	metricsIncCacheResult(xcache)

	creq := convert.Request{
		Host:    sel.SubConverter,
		Mirrors: sel.Settings.ConverterMirrors,
		Config:  sel.SubConfig,
		Timeout: h.opt.ConvertTimeout,
		Logger:  h.log,
	}
	if format != uapolicy.FormatBase64 {
		creq.CallbackURL, err = h.opt.Signer.URL(h.baseURL(r), sel.Key, sel.Expired)
		if err != nil {
			writeErrorFromErr(w, err)
			return
		}
	}

	resp := convert.Convert(ctx, nodes, format, creq)

	hdr := w.Header()
	hdr.Set("X-Cache", xcache)
	if resp.Fallback {
		metricsIncConverterFallback()
		hdr.Set("X-Converter-Fallback", "base64")
		hdr.Set("X-Converter-Error", resp.Error)
	}
	if resp.Status != http.StatusOK {
		writeErrorFromErr(w, resp.Err)
		return
	}

	if userInfo != nil {
		hdr.Set("Subscription-Userinfo", userInfo.Header())
	}
	if name, ok := attachmentName(sel.FileName, format); ok {
		hdr.Set("Content-Disposition", contentDispositionAttachment(name))
	}
	WriteText(w, http.StatusOK, resp.Body)
}

// handleCallback serves the base64 node list the converter was pointed at.
func (h subHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store, no-cache")
	claims, err := h.opt.Signer.Verify(r.URL.Query().Get("token"))
	if err != nil {
		writeErrorFromErr(w, apiError(http.StatusForbidden, model.AppError{
			Code:    "CALLBACK_TOKEN_INVALID",
			Message: "callback token is invalid or expired",
			Stage:   "callback",
		}, err))
		return
	}

	if claims.Expired {
		WriteText(w, http.StatusOK, convert.EncodeBase64(pipeline.ExpiredNode))
		return
	}

	e, ok, err := h.opt.Cache.Peek(r.Context(), claims.Subject)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}
	if !ok {
		writeErrorFromErr(w, apiError(http.StatusNotFound, model.AppError{
			Code:    "CACHE_ENTRY_NOT_FOUND",
			Message: "no cached node list for this callback",
			Stage:   "callback",
		}, nil))
		return
	}
	WriteText(w, http.StatusOK, convert.EncodeBase64(e.Content))
}

func (h subHandler) baseURL(r *http.Request) string {
	if h.opt.PublicBaseURL != "" {
		return h.opt.PublicBaseURL
	}
	return deriveRequestBaseURL(r)
}

func deriveRequestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))); p == "http" || p == "https" {
		scheme = p
	}
	host := r.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return scheme + "://" + host
}

func forceRefresh(q url.Values) bool {
	v := strings.ToLower(strings.TrimSpace(q.Get("refresh")))
	return v == "1" || v == "true"
}

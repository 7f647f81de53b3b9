package gcp

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/docuconvert/internal/models"
	"google.golang.org/api/googleapi"
)

func TestIsPreconditionFailed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"412", &googleapi.Error{Code: 412}, true},
		{"wrapped 412", fmt.Errorf("close: %w", &googleapi.Error{Code: 412}), true},
		{"500", &googleapi.Error{Code: 500}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := isPreconditionFailed(tt.err); got != tt.want {
			t.Errorf("%s: isPreconditionFailed = %v; want %v", tt.name, got, tt.want)
		}
	}
}

func TestObjectName(t *testing.T) {
	got := ObjectName("doc123", filepath.Join("imgs", "a.jpg"))
	if got != "doc123/imgs/a.jpg" {
		t.Errorf("ObjectName = %s", got)
	}
	if got := ObjectURI("out", got); got != "gs://out/doc123/imgs/a.jpg" {
		t.Errorf("ObjectURI = %s", got)
	}
}

func TestContentTypeOf(t *testing.T) {
	if ct := contentTypeOf("doc/report.md"); ct != "text/markdown; charset=utf-8" {
		t.Errorf("markdown content type = %s", ct)
	}
	if ct := contentTypeOf("doc/blob"); ct != "application/octet-stream" {
		t.Errorf("fallback content type = %s", ct)
	}
}

func TestFailureUpdates(t *testing.T) {
	outcome := models.Failed("denied", 2*time.Second, 401, true, true, false)
	updates := FailureUpdates(outcome)
	paths := make(map[string]any)
	for _, u := range updates {
		paths[u.Path] = u.Value
	}
	if paths["errorDetails"] != "denied" || paths["statusCode"] != 401 || paths["authError"] != true {
		t.Errorf("unexpected updates %v", paths)
	}

	plain := FailureUpdates(models.Failed("bad input", time.Second, 0, false, true, false))
	if len(plain) != 2 {
		t.Errorf("got %d updates for a failure without status; want 2", len(plain))
	}
}

func TestReopenUpdatesClearFailureFields(t *testing.T) {
	cleared := make(map[string]bool)
	for _, u := range ReopenUpdates() {
		if u.Value != firestore.Delete {
			t.Errorf("%s is set to %v; want a delete", u.Path, u.Value)
		}
		cleared[u.Path] = true
	}
	for _, u := range FailureUpdates(models.Failed("denied", time.Second, 401, true, true, false)) {
		if !cleared[u.Path] {
			t.Errorf("failure field %s survives a reopen", u.Path)
		}
	}
}

func TestWorkflowParent(t *testing.T) {
	if got := WorkflowParent("p", "us-central1", "wf"); got != "projects/p/locations/us-central1/workflows/wf" {
		t.Errorf("WorkflowParent = %s", got)
	}
}

package downloader

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkError_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        *NetworkError
		wantFormat string
	}{
		{
			name: "with HTTP status code",
			err: &NetworkError{
				Operation:  "request",
				URL:        "https://cdn.example.com/ep1.mp3",
				StatusCode: 503,
			},
			wantFormat: "network error during request of https://cdn.example.com/ep1.mp3: HTTP 503",
		},
		{
			name: "without HTTP status code",
			err: &NetworkError{
				Operation: "read",
				URL:       "https://cdn.example.com/ep1.mp3",
				Err:       errReadTimeout,
			},
			wantFormat: "network error during read of https://cdn.example.com/ep1.mp3: read timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantFormat, tt.err.Error())
		})
	}
}

func TestIncompleteTransferError_Error(t *testing.T) {
	known := &IncompleteTransferError{Path: "/data/ep1.mp3", Written: 400, Expected: 1000}
	unknown := &IncompleteTransferError{Path: "/data/ep1.mp3"}

	assert.Equal(t, "incomplete download of /data/ep1.mp3: wrote 400 of 1000 bytes", known.Error())
	assert.Equal(t, "incomplete download of /data/ep1.mp3: wrote 0 bytes", unknown.Error())
}

func TestErrorsUnwrap(t *testing.T) {
	fsErr := fmt.Errorf("download failed: %w", &FilesystemError{Operation: "create", Path: "/x", Err: fs.ErrPermission})

	var target *FilesystemError
	assert.True(t, errors.As(fsErr, &target))
	assert.Equal(t, "create", target.Operation)
	assert.ErrorIs(t, fsErr, fs.ErrPermission)

	netErr := &NetworkError{Operation: "read", Err: errReadTimeout}
	assert.ErrorIs(t, netErr, errReadTimeout)

	batchErr := &BatchError{Err: ErrBatchRunning}
	assert.ErrorIs(t, batchErr, ErrBatchRunning)
}

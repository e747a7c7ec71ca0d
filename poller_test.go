/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package einvoice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blnkfinance/einvoice/internal/walker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefresherNotifiesOnScanErrors(t *testing.T) {
	failing := walker.WithReadDir(func(dir string) ([]os.DirEntry, error) {
		if strings.HasSuffix(dir, filepath.Join("Manual", "Broken")) {
			return nil, errors.New("permission denied")
		}
		return os.ReadDir(dir)
	})
	te := newTestEngine(t, WithWalkerOptions(failing))
	te.writeInvoice(t, "ARINV600")
	require.NoError(t, os.MkdirAll(filepath.Join(te.root, "Manual", "Broken"), 0o755))
	te.Config().Storage.RefreshInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		te.StartRefresher(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(te.notifier.Titles()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	// Repeated failing scans only notify once.
	assert.Equal(t, []string{"Document scan errors"}, te.notifier.Titles())
}

func TestStatusNotificationDropsCachedListing(t *testing.T) {
	te := newTestEngine(t)
	te.writeInvoice(t, "ARINV601")
	ctx := context.Background()

	_, err := te.ListAll(ctx, ModeNormal)
	require.NoError(t, err)
	cached, err := te.ListAll(ctx, ModeNormal)
	require.NoError(t, err)
	require.True(t, cached.FromCache)

	require.NoError(t, te.HandleNotification(ctx, "submission_statuses", map[string]interface{}{
		"document_number": "ARINV601",
		"status":          "Submitted",
	}))

	listing, err := te.ListAll(ctx, ModeNormal)
	require.NoError(t, err)
	assert.False(t, listing.FromCache)
}

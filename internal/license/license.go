// Package license implements the License Assignment Strategy (§4.7, C7): it
// reconciles the blob-backed license file set against the stock and usage
// tables and resolves a single license for a (productName, vmId) request.
package license

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/openshift/autoscale-core/internal/apis/fleet"
	"github.com/openshift/autoscale-core/internal/autoscaleerrors"
	"github.com/openshift/autoscale-core/internal/platform"
	"github.com/openshift/autoscale-core/internal/proxy"
)

// retryBackoff paces every race-lost retry (§4.7 step 7); fallbackMaxAttempts
// caps the attempts only when no proxy adapter is supplied to report
// remaining execution time.
const (
	retryBackoff        = 2 * time.Second
	fallbackMaxAttempts = 3
	minRemainingMs      = 6000
)

// Request identifies what's being asked for.
type Request struct {
	ProductName string
	VmID        string
}

// Result is a resolved license ready to hand back to the caller.
type Result struct {
	FileName string
	Content  []byte
	// Secret flags the response as maskable/secret to the transport (§6).
	Secret bool
}

// Assign runs the full §4.7 algorithm for one request.
func Assign(ctx context.Context, adapter platform.Adapter, px proxy.Adapter, container, dir string, req Request) (Result, error) {
	files, stock, usage, err := list(ctx, adapter, container, dir, req.ProductName)
	if err != nil {
		return Result{}, err
	}

	if err := reconcileStock(ctx, adapter, req.ProductName, files, stock); err != nil {
		return Result{}, err
	}
	// Select from the reconciled stock table, not the listing taken before
	// step 2 added or removed rows.
	stock, err = autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() ([]fleet.LicenseStockRecord, error) {
		return adapter.ListLicenseStock(ctx, req.ProductName)
	})
	if err != nil {
		return Result{}, err
	}

	stockByChecksum := make(map[string]fleet.LicenseStockRecord, len(stock))
	for _, s := range stock {
		stockByChecksum[s.Checksum] = s
	}

	// Steps 3-7 loop: the selection (steps 3-6) is re-run against a fresh
	// usage listing every time step 7's conditional insert loses a race, so
	// a concurrent assignment that landed between our list and our write is
	// always observed before we retry (§4.7 step 7).
	limiter := rate.NewLimiter(rate.Every(retryBackoff), 1)
	limiter.Allow() // spend the initial token so the first retry also waits
	for attempt := 0; ; attempt++ {
		// Step 3: idempotent re-request short-circuit.
		for _, u := range usage {
			if u.VmID == req.VmID {
				return fetch(ctx, adapter, container, files, u.FileName, u.Checksum)
			}
		}

		usedChecksums := make(map[string]fleet.LicenseUsageRecord, len(usage))
		for _, u := range usage {
			usedChecksums[u.Checksum] = u
		}

		// Step 4: prefer an unused license.
		var chosen *fleet.LicenseStockRecord
		if s, ok := pickUnused(stock, usedChecksums); ok {
			chosen = &s
		}

		var recycle *fleet.LicenseUsageRecord
		if chosen == nil {
			// Step 5: mark in-sync of holders, pick a recyclable one.
			refreshed, err := refreshInSync(ctx, adapter, usage)
			if err != nil {
				return Result{}, err
			}
			usage = refreshed
			if r, ok := pickRecyclable(usage); ok {
				recycle = &r
				if s, ok := stockByChecksum[r.Checksum]; ok {
					chosen = &s
				}
			}
		}

		if chosen == nil {
			return Result{}, autoscaleerrors.ErrLicenseExhausted
		}

		// Step 7: conditional insert, racing other handlers assigning the
		// same vmId.
		newUsage := fleet.LicenseUsageRecord{
			VmID:        req.VmID,
			Checksum:    chosen.Checksum,
			FileName:    chosen.FileName,
			ProductName: chosen.ProductName,
			VmInSync:    true,
			AssignedAt:  nowMs(),
		}
		toWrite := []fleet.LicenseUsageRecord{newUsage}
		if recycle != nil {
			toWrite = append(toWrite, fleet.LicenseUsageRecord{VmID: recycle.VmID, Checksum: "", FileName: ""})
		}

		err := autoscaleerrors.Retry(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() error {
			return adapter.UpdateLicenseUsage(ctx, toWrite)
		})
		if err == nil {
			return fetch(ctx, adapter, container, files, chosen.FileName, chosen.Checksum)
		}
		if !isRaceLost(err) {
			return Result{}, err
		}

		// Race lost: bounded by remaining execution time where the proxy
		// adapter can report it, falling back to a fixed attempt count
		// (§9 open question — remaining time is authoritative).
		if px != nil && px.GetRemainingExecutionTimeMs() < minRemainingMs {
			return Result{}, autoscaleerrors.ErrRaceLost
		}
		if px == nil && attempt+1 >= fallbackMaxAttempts {
			return Result{}, autoscaleerrors.ErrRaceLost
		}
		if err := limiter.Wait(ctx); err != nil {
			return Result{}, err
		}

		usage, err = autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() ([]fleet.LicenseUsageRecord, error) {
			return adapter.ListLicenseUsage(ctx, req.ProductName)
		})
		if err != nil {
			return Result{}, err
		}
	}
}

func list(ctx context.Context, adapter platform.Adapter, container, dir, product string) ([]fleet.LicenseFile, []fleet.LicenseStockRecord, []fleet.LicenseUsageRecord, error) {
	type filesResult struct {
		files []fleet.LicenseFile
		err   error
	}
	type stockResult struct {
		stock []fleet.LicenseStockRecord
		err   error
	}
	type usageResult struct {
		usage []fleet.LicenseUsageRecord
		err   error
	}

	filesCh := make(chan filesResult, 1)
	stockCh := make(chan stockResult, 1)
	usageCh := make(chan usageResult, 1)

	go func() {
		f, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() ([]fleet.LicenseFile, error) {
			return adapter.ListLicenseFiles(ctx, container, dir)
		})
		filesCh <- filesResult{f, err}
	}()
	go func() {
		s, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() ([]fleet.LicenseStockRecord, error) {
			return adapter.ListLicenseStock(ctx, product)
		})
		stockCh <- stockResult{s, err}
	}()
	go func() {
		u, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() ([]fleet.LicenseUsageRecord, error) {
			return adapter.ListLicenseUsage(ctx, product)
		})
		usageCh <- usageResult{u, err}
	}()

	fr, sr, ur := <-filesCh, <-stockCh, <-usageCh
	errs := autoscaleerrors.NewAggregate([]error{fr.err, sr.err, ur.err})
	if errs != nil {
		return nil, nil, nil, errs
	}
	return fr.files, sr.stock, ur.usage, nil
}

// reconcileStock implements §4.7 step 2: stock is kept in sync with the
// blob store's actual file set, keyed by checksum.
func reconcileStock(ctx context.Context, adapter platform.Adapter, product string, files []fleet.LicenseFile, stock []fleet.LicenseStockRecord) error {
	byChecksum := make(map[string]fleet.LicenseStockRecord, len(stock))
	for _, s := range stock {
		byChecksum[s.Checksum] = s
	}
	seen := make(map[string]bool, len(files))

	var changes []fleet.LicenseStockRecord
	for _, f := range files {
		seen[f.Checksum] = true
		if _, ok := byChecksum[f.Checksum]; !ok {
			changes = append(changes, fleet.LicenseStockRecord{
				Checksum:    f.Checksum,
				FileName:    f.FileName,
				Algorithm:   f.Algorithm,
				ProductName: product,
			})
		}
	}
	for checksum := range byChecksum {
		if !seen[checksum] {
			// Deletion is represented as a stock record with an empty
			// FileName; the platform adapter interprets that as a
			// tombstone for the checksum key.
			changes = append(changes, fleet.LicenseStockRecord{Checksum: checksum})
		}
	}

	if len(changes) == 0 {
		return nil
	}
	return autoscaleerrors.Retry(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() error {
		return adapter.UpdateLicenseStock(ctx, changes)
	})
}

func pickUnused(stock []fleet.LicenseStockRecord, used map[string]fleet.LicenseUsageRecord) (fleet.LicenseStockRecord, bool) {
	for _, s := range stock {
		if _, ok := used[s.Checksum]; !ok {
			return s, true
		}
	}
	return fleet.LicenseStockRecord{}, false
}

// refreshInSync marks each usage record's VmInSync flag from the holder's
// current health record (§4.7 step 5).
func refreshInSync(ctx context.Context, adapter platform.Adapter, usage []fleet.LicenseUsageRecord) ([]fleet.LicenseUsageRecord, error) {
	updated := make([]fleet.LicenseUsageRecord, len(usage))
	copy(updated, usage)
	for i := range updated {
		h, err := autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (*fleet.HealthCheckRecord, error) {
			return adapter.GetHealthCheckRecord(ctx, updated[i].VmID)
		})
		if err != nil {
			return nil, err
		}
		updated[i].VmInSync = h != nil && h.Healthy && h.SyncState == fleet.SyncStateInSync
	}
	return updated, nil
}

func pickRecyclable(usage []fleet.LicenseUsageRecord) (fleet.LicenseUsageRecord, bool) {
	for _, u := range usage {
		if !u.VmInSync {
			return u, true
		}
	}
	return fleet.LicenseUsageRecord{}, false
}

func fetch(ctx context.Context, adapter platform.Adapter, container string, files []fleet.LicenseFile, fileName, checksum string) (Result, error) {
	for _, f := range files {
		if f.Checksum == checksum || f.FileName == fileName {
			content := f.Content
			if content == nil {
				var err error
				content, err = autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() ([]byte, error) {
					return adapter.LoadLicenseFileContent(ctx, container, f.FileName)
				})
				if err != nil {
					return Result{}, err
				}
			}
			return Result{FileName: f.FileName, Content: content, Secret: true}, nil
		}
	}
	return Result{FileName: fileName, Secret: true}, nil
}

func isRaceLost(err error) bool {
	return errors.Is(err, autoscaleerrors.ErrRaceLost)
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/velro/authz-core/internal/domain/session"
	"go.uber.org/goleak"
)

func TestSessionStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	sess := &session.Session{
		ID:          "sess-1",
		PrincipalID: "user-1",
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(30 * time.Minute),
		LastAccess:  time.Now().UTC(),
	}

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if got.ID != "sess-1" {
		t.Errorf("ID = %q, want %q", got.ID, "sess-1")
	}
	if got.PrincipalID != "user-1" {
		t.Errorf("PrincipalID = %q, want %q", got.PrincipalID, "user-1")
	}
}

func TestSessionStore_GetNonExistent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	_, err := store.Get(ctx, "nonexistent")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStore_ExpiredSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	sess := &session.Session{
		ID:          "sess-expired",
		PrincipalID: "user-1",
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
		ExpiresAt:   time.Now().UTC().Add(-time.Minute),
		LastAccess:  time.Now().UTC().Add(-time.Hour),
	}

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	_, err := store.Get(ctx, "sess-expired")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() for expired session error = %v, want ErrSessionNotFound", err)
	}

	_, err = store.Get(ctx, "sess-expired")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() after first check error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStore_Update(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	sess := &session.Session{
		ID:          "sess-update",
		PrincipalID: "user-1",
		ExpiresAt:   time.Now().UTC().Add(30 * time.Minute),
		LastAccess:  time.Now().UTC().Add(-10 * time.Minute),
	}

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	sess.LastAccess = time.Now().UTC()
	sess.PrincipalID = "user-2"
	if err := store.Update(ctx, sess); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	got, err := store.Get(ctx, "sess-update")
	if err != nil {
		t.Fatalf("Get() after update error: %v", err)
	}
	if got.PrincipalID != "user-2" {
		t.Errorf("PrincipalID = %q, want %q", got.PrincipalID, "user-2")
	}
}

func TestSessionStore_UpdateNonExistent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	sess := &session.Session{
		ID:        "nonexistent",
		ExpiresAt: time.Now().UTC().Add(30 * time.Minute),
	}

	err := store.Update(ctx, sess)
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Update() error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStore_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	sess := &session.Session{
		ID:        "sess-delete",
		ExpiresAt: time.Now().UTC().Add(30 * time.Minute),
	}

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := store.Delete(ctx, "sess-delete"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	_, err := store.Get(ctx, "sess-delete")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() after Delete() should return ErrSessionNotFound, got %v", err)
	}
}

func TestSessionStore_DeleteNonExistent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	if err := store.Delete(ctx, "nonexistent"); err != nil {
		t.Errorf("Delete() on non-existent session should not error, got %v", err)
	}
}

func TestSessionStore_CopyOnReturn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	sess := &session.Session{
		ID:          "sess-copy-test",
		PrincipalID: "user-1",
		ExpiresAt:   time.Now().UTC().Add(30 * time.Minute),
	}

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got1, err := store.Get(ctx, "sess-copy-test")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	got1.PrincipalID = "modified-user"

	got2, err := store.Get(ctx, "sess-copy-test")
	if err != nil {
		t.Fatalf("Get() second call error: %v", err)
	}

	if got2.PrincipalID == "modified-user" {
		t.Error("Store returned reference instead of copy (PrincipalID was modified)")
	}
}

func TestSessionStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	for i := 0; i < 10; i++ {
		sess := &session.Session{
			ID:          "sess-concurrent-" + string(rune('0'+i)),
			PrincipalID: "user-1",
			ExpiresAt:   time.Now().UTC().Add(30 * time.Minute),
		}
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 400)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sessID := "sess-concurrent-" + string(rune('0'+(idx%10)))
			_, err := store.Get(ctx, sessID)
			if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
				errCh <- err
			}
		}(i)
	}

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sessID := "sess-concurrent-" + string(rune('0'+(idx%10)))
			sess := &session.Session{
				ID:          sessID,
				PrincipalID: "user-updated",
				ExpiresAt:   time.Now().UTC().Add(30 * time.Minute),
			}
			_ = store.Update(ctx, sess)
		}(i)
	}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sess := &session.Session{
				ID:        "sess-new-" + string(rune('a'+idx)),
				ExpiresAt: time.Now().UTC().Add(30 * time.Minute),
			}
			if err := store.Create(ctx, sess); err != nil {
				errCh <- err
			}
		}(i)
	}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sessID := "sess-concurrent-" + string(rune('0'+(idx%10)))
			if err := store.Delete(ctx, sessID); err != nil {
				errCh <- err
			}
		}(i)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("Concurrent access error: %v", err)
	}
}

// TestSessionStoreCleanup verifies that expired sessions are removed by background cleanup.
func TestSessionStoreCleanup(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewSessionStoreWithConfig(50 * time.Millisecond)
	store.StartCleanup(ctx)
	defer store.Stop()

	sess := &session.Session{
		ID:          "sess-cleanup-test",
		PrincipalID: "user-1",
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(100 * time.Millisecond),
		LastAccess:  time.Now().UTC(),
	}

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	_, err := store.Get(ctx, "sess-cleanup-test")
	if err != nil {
		t.Fatalf("Get() should succeed initially: %v", err)
	}

	if store.Size() != 1 {
		t.Errorf("Size() = %d, want 1", store.Size())
	}

	time.Sleep(250 * time.Millisecond)

	_, err = store.Get(ctx, "sess-cleanup-test")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() after cleanup should return ErrSessionNotFound, got %v", err)
	}

	if store.Size() != 0 {
		t.Errorf("Size() after cleanup = %d, want 0", store.Size())
	}
}

// TestSessionStoreNoGoroutineLeak verifies that cleanup goroutine exits properly.
func TestSessionStoreNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())

	store := NewSessionStoreWithConfig(50 * time.Millisecond)
	store.StartCleanup(ctx)

	for i := 0; i < 5; i++ {
		sess := &session.Session{
			ID:        "sess-leak-test-" + string(rune('0'+i)),
			ExpiresAt: time.Now().UTC().Add(30 * time.Minute),
		}
		_ = store.Create(ctx, sess)
		_, _ = store.Get(ctx, sess.ID)
	}

	time.Sleep(100 * time.Millisecond)

	cancel()
	store.Stop()
}

// TestSessionStoreConcurrentAccessDuringCleanup verifies no races during cleanup.
func TestSessionStoreConcurrentAccessDuringCleanup(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewSessionStoreWithConfig(10 * time.Millisecond)
	store.StartCleanup(ctx)
	defer store.Stop()

	var wg sync.WaitGroup
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			bgCtx := context.Background()
			counter := 0
			for {
				select {
				case <-done:
					return
				default:
					sessID := "sess-concurrent-cleanup-" + string(rune('a'+idx)) + "-" + string(rune('0'+counter%10))
					sess := &session.Session{
						ID:        sessID,
						ExpiresAt: time.Now().UTC().Add(50 * time.Millisecond),
					}
					_ = store.Create(bgCtx, sess)
					_, _ = store.Get(bgCtx, sessID)
					_ = store.Delete(bgCtx, sessID)
					counter++
				}
			}
		}(i)
	}

	time.Sleep(500 * time.Millisecond)
	close(done)
	wg.Wait()
}

// TestSessionStoreGetNoLockUpgrade verifies Get() doesn't deadlock on expired sessions.
func TestSessionStoreGetNoLockUpgrade(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	sess := &session.Session{
		ID:          "sess-lock-upgrade-test",
		PrincipalID: "user-1",
		ExpiresAt:   time.Now().UTC().Add(-time.Minute),
	}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Get(ctx, "sess-lock-upgrade-test")
			if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
				errCh <- err
			}
		}()
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Test timed out - possible deadlock in Get()")
	}

	close(errCh)
	for err := range errCh {
		t.Errorf("Get() error: %v", err)
	}
}

// TestSessionStoreStopMultipleCalls verifies Stop() can be called multiple times safely.
func TestSessionStoreStopMultipleCalls(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewSessionStoreWithConfig(50 * time.Millisecond)
	store.StartCleanup(ctx)

	store.Stop()
	store.Stop()
	store.Stop()
}

func TestSessionStoreLongRunning(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping long-running test in short mode")
	}
	defer goleak.VerifyNone(t)

	store := NewSessionStoreWithConfig(100 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer store.Stop()

	store.StartCleanup(ctx)

	sessionCount := 0
	start := time.Now()
	for time.Since(start) < 3*time.Second {
		sess := &session.Session{
			ID:          "sess-" + string(rune('0'+sessionCount/1000)) + string(rune('0'+(sessionCount/100)%10)) + string(rune('0'+(sessionCount/10)%10)) + string(rune('0'+sessionCount%10)),
			PrincipalID: "test-user",
			CreatedAt:   time.Now(),
			ExpiresAt:   time.Now().Add(200 * time.Millisecond),
			LastAccess:  time.Now(),
		}
		_ = store.Create(context.Background(), sess)
		sessionCount++
		time.Sleep(time.Millisecond)
	}

	time.Sleep(500 * time.Millisecond)

	size := store.Size()
	t.Logf("Created %d sessions, map size after cleanup: %d", sessionCount, size)

	if size > sessionCount/4 {
		t.Errorf("Map size %d is too large (created %d sessions), cleanup not working", size, sessionCount)
	}
}

func TestSessionStore_AllowedTrueForActiveSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	sess := &session.Session{
		ID:          "sess-allow",
		PrincipalID: "user-1",
		ExpiresAt:   time.Now().UTC().Add(30 * time.Minute),
	}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	allowed, err := store.Allowed(ctx, "user-1")
	if err != nil {
		t.Fatalf("Allowed() error: %v", err)
	}
	if !allowed {
		t.Error("expected Allowed() true for a principal with an active session")
	}
}

func TestSessionStore_AllowedFalseForUnknownPrincipal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	allowed, err := store.Allowed(ctx, "no-such-user")
	if err != nil {
		t.Fatalf("Allowed() error: %v", err)
	}
	if allowed {
		t.Error("expected Allowed() false for a principal with no session")
	}
}

func TestSessionStore_AllowedFalseAfterExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	sess := &session.Session{
		ID:          "sess-expired-allow",
		PrincipalID: "user-1",
		ExpiresAt:   time.Now().UTC().Add(-time.Minute),
	}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	allowed, err := store.Allowed(ctx, "user-1")
	if err != nil {
		t.Fatalf("Allowed() error: %v", err)
	}
	if allowed {
		t.Error("expected Allowed() false for an expired session")
	}
}

func TestSessionStore_AllowedFollowsMostRecentSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	first := &session.Session{ID: "sess-old", PrincipalID: "user-1", ExpiresAt: time.Now().UTC().Add(-time.Minute)}
	second := &session.Session{ID: "sess-new", PrincipalID: "user-1", ExpiresAt: time.Now().UTC().Add(30 * time.Minute)}

	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.Create(ctx, second); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	allowed, err := store.Allowed(ctx, "user-1")
	if err != nil {
		t.Fatalf("Allowed() error: %v", err)
	}
	if !allowed {
		t.Error("expected Allowed() true once the principal has a newer active session")
	}
}

package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/utils"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

// fakeSupervisor runs submitted tasks inline, which makes the bridge
// synchronous in tests.
type fakeSupervisor struct {
	mu           sync.Mutex
	errorCount   int
	incremented  int
	disconnected []string
	submitErr    error
	swallowTasks bool
}

func (f *fakeSupervisor) Submit(key string, task func()) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	if f.swallowTasks {
		return nil
	}
	task()
	return nil
}

func (f *fakeSupervisor) DisconnectUser(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, userID)
}

func (f *fakeSupervisor) ErrorCount(userID string) int { return f.errorCount }

func (f *fakeSupervisor) IncrementErrorCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incremented++
	return f.incremented
}

func (f *fakeSupervisor) StressTestMode() bool { return true }

func (f *fakeSupervisor) incrementedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.incremented
}

// fakeRepository is a stateful in-memory stand-in: cursor mutations are
// applied to the stored user the way the real repository would.
type fakeRepository struct {
	mu               sync.Mutex
	user             *models.User
	resetCursorCalls []string
	clearUIDCalls    int
	recordedUIDs     []uint32
	lastLoginCalls   int
	statusUpdates    []enum.ConnectionStatus
}

func (f *fakeRepository) GetUser(ctx context.Context, userID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *f.user
	return &copied, nil
}

func (f *fakeRepository) GetActiveUsers(ctx context.Context) ([]*models.User, error) {
	return []*models.User{f.user}, nil
}

func (f *fakeRepository) ResetCursor(ctx context.Context, userID, uidValidity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCursorCalls = append(f.resetCursorCalls, uidValidity)
	f.user.LastUIDValidity = &uidValidity
	f.user.LastUID = nil
	return nil
}

func (f *fakeRepository) ClearLastUID(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearUIDCalls++
	f.user.LastUID = nil
	return nil
}

func (f *fakeRepository) RecordMessage(ctx context.Context, userID string, uid uint32, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordedUIDs = append(f.recordedUIDs, uid)
	f.user.LastUID = &uid
	f.user.LastEmailAt = &at
	return nil
}

func (f *fakeRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLoginCalls++
	f.user.LastLoginAt = at
	return nil
}

func (f *fakeRepository) UpdateConnectionStatus(ctx context.Context, userID string, status enum.ConnectionStatus, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusUpdates = append(f.statusUpdates, status)
	f.user.ConnectionStatus = status
	return nil
}

type fakeClient struct {
	mu sync.Mutex

	folders     []string
	uidValidity uint32
	authErr     error

	rangeCalls   [][2]uint32
	rangeResults [][]uint32
	sinceCalls   []time.Time
	sinceResults [][]uint32

	examined []string

	idle func(ctx context.Context, stop <-chan struct{}, handler interfaces.IdleHandler) error

	logoutCalls     int
	disconnectCalls int
}

func (f *fakeClient) Authenticate(ctx context.Context, user *models.User) error {
	return f.authErr
}

func (f *fakeClient) ListFolders(ctx context.Context) ([]string, error) {
	return f.folders, nil
}

func (f *fakeClient) Examine(ctx context.Context, folderName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.examined = append(f.examined, folderName)
	return nil
}

func (f *fakeClient) UIDValidity(ctx context.Context, folderName string) (uint32, error) {
	return f.uidValidity, nil
}

func (f *fakeClient) UIDSearchRange(ctx context.Context, from, to uint32) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rangeCalls = append(f.rangeCalls, [2]uint32{from, to})
	if len(f.rangeResults) == 0 {
		return nil, nil
	}
	result := f.rangeResults[0]
	f.rangeResults = f.rangeResults[1:]
	return result, nil
}

func (f *fakeClient) UIDSearchSince(ctx context.Context, since time.Time) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinceCalls = append(f.sinceCalls, since)
	if len(f.sinceResults) == 0 {
		return nil, nil
	}
	result := f.sinceResults[0]
	f.sinceResults = f.sinceResults[1:]
	return result, nil
}

func (f *fakeClient) Idle(ctx context.Context, stop <-chan struct{}, handler interfaces.IdleHandler) error {
	if f.idle != nil {
		return f.idle(ctx, stop, handler)
	}
	return nil
}

func (f *fakeClient) FetchMessageByUID(ctx context.Context, uid uint32) (*models.RawMessage, error) {
	return &models.RawMessage{UID: uid}, nil
}

func (f *fakeClient) Logout() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
}

type fakeDialer struct {
	client interfaces.IMAPClient
	err    error
}

func (f *fakeDialer) Connect(ctx context.Context, user *models.User) (interfaces.IMAPClient, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

type fakeProcessor struct {
	mu        sync.Mutex
	processed []uint32
	err       error
	onProcess func(uid uint32)
}

func (f *fakeProcessor) ProcessUID(ctx context.Context, user *models.User, client interfaces.IMAPClient, folderName string, uid uint32) error {
	if f.onProcess != nil {
		f.onProcess(uid)
	}
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, uid)
	return nil
}

func (f *fakeProcessor) processedUIDs() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.processed...)
}

func newTestUser() *models.User {
	return &models.User{
		ID:           "user-test-1",
		EmailAddress: "sync@example.com",
		Provider:     enum.EmailProviderGeneric,
		ImapServer:   "imap.example.com",
		ImapPort:     993,
		ImapUsername: "sync@example.com",
		ImapPassword: "secret",
		ImapSecurity: enum.EmailSecurityTLS,
	}
}

func newTestWorker(sup interfaces.Supervisor, user *models.User, client *fakeClient, repo *fakeRepository, proc *fakeProcessor) *UserWorker {
	return NewUserWorker(sup, user, Options{
		Dialer:     &fakeDialer{client: client},
		Repository: repo,
		Processor:  proc,
		Log:        getLogger(),
	})
}

// stopOnFirstIdle makes the session wind down after its first resync
// pass, standing in for an operator stop.
func stopOnFirstIdle(w *UserWorker, client *fakeClient) {
	client.idle = func(ctx context.Context, stop <-chan struct{}, handler interfaces.IdleHandler) error {
		w.Stop()
		return nil
	}
}

func TestRun_NewUserSyncsByDate(t *testing.T) {
	// Arrange
	user := newTestUser()
	sup := &fakeSupervisor{}
	repo := &fakeRepository{user: newTestUser()}
	proc := &fakeProcessor{}
	client := &fakeClient{
		folders:      []string{"INBOX", "Drafts"},
		uidValidity:  42,
		sinceResults: [][]uint32{{10, 11, 12}},
	}
	w := newTestWorker(sup, user, client, repo, proc)
	stopOnFirstIdle(w, client)

	// Act
	w.Run(context.Background())

	// Assert
	assert.Equal(t, []uint32{10, 11, 12}, proc.processedUIDs())
	assert.Equal(t, []uint32{10, 11, 12}, repo.recordedUIDs)
	assert.Equal(t, []string{"42"}, repo.resetCursorCalls)
	assert.Equal(t, []string{"INBOX"}, client.examined)
	assert.Equal(t, 1, repo.lastLoginCalls)
	require.NotNil(t, w.user.LastUID)
	assert.Equal(t, uint32(12), *w.user.LastUID)
	assert.Equal(t, 0, sup.incrementedCount())
}

func TestRun_CursorIntactSearchesNextWindow(t *testing.T) {
	// Arrange
	stored := newTestUser()
	stored.LastUID = utils.Ptr(uint32(100))
	stored.LastUIDValidity = utils.Ptr("42")
	stored.LastEmailAt = utils.NowPtr()

	snapshot := *stored
	sup := &fakeSupervisor{}
	repo := &fakeRepository{user: stored}
	proc := &fakeProcessor{}
	client := &fakeClient{
		folders:      []string{"INBOX"},
		uidValidity:  42,
		rangeResults: [][]uint32{{105, 180}},
	}
	w := newTestWorker(sup, &snapshot, client, repo, proc)
	stopOnFirstIdle(w, client)

	// Act
	w.Run(context.Background())

	// Assert
	assert.Empty(t, repo.resetCursorCalls)
	require.Len(t, client.rangeCalls, 2)
	assert.Equal(t, [2]uint32{101, 200}, client.rangeCalls[0])
	assert.Equal(t, [2]uint32{181, 280}, client.rangeCalls[1])
	assert.Equal(t, []uint32{105, 180}, proc.processedUIDs())
	assert.Empty(t, client.sinceCalls)
}

func TestRun_UIDValidityRotationResetsCursor(t *testing.T) {
	// Arrange
	stored := newTestUser()
	stored.LastUID = utils.Ptr(uint32(55))
	stored.LastUIDValidity = utils.Ptr("42")

	snapshot := *stored
	sup := &fakeSupervisor{}
	repo := &fakeRepository{user: stored}
	proc := &fakeProcessor{}
	client := &fakeClient{
		folders:     []string{"INBOX"},
		uidValidity: 43,
	}
	w := newTestWorker(sup, &snapshot, client, repo, proc)
	stopOnFirstIdle(w, client)

	// Act
	w.Run(context.Background())

	// Assert
	assert.Equal(t, []string{"43"}, repo.resetCursorCalls)
	assert.Empty(t, client.rangeCalls, "rotation must drop back to the by-date strategy")
	require.Len(t, client.sinceCalls, 1)
	lookback := time.Since(client.sinceCalls[0])
	assert.InDelta(t, (48 * time.Hour).Seconds(), lookback.Seconds(), 60)
	assert.Equal(t, 0, sup.incrementedCount())
}

func TestRun_ContentionStopsSilently(t *testing.T) {
	// Arrange: another machine already persisted a different token.
	stored := newTestUser()
	stored.LastUIDValidity = utils.Ptr("99")

	snapshot := *stored
	snapshot.LastUIDValidity = utils.Ptr("42")

	sup := &fakeSupervisor{}
	repo := &fakeRepository{user: stored}
	proc := &fakeProcessor{}
	client := &fakeClient{
		folders:     []string{"INBOX"},
		uidValidity: 42,
	}
	w := newTestWorker(sup, &snapshot, client, repo, proc)

	// Act
	w.Run(context.Background())

	// Assert
	assert.Equal(t, 0, sup.incrementedCount(), "contention is not an error")
	assert.Empty(t, repo.resetCursorCalls)
	assert.Empty(t, proc.processedUIDs())
	assert.Equal(t, []string{"user-test-1"}, sup.disconnected)
	assert.Equal(t, 1, client.logoutCalls)
	assert.Equal(t, 1, client.disconnectCalls)
}

func TestRun_AuthFailureCountsError(t *testing.T) {
	// Arrange
	user := newTestUser()
	sup := &fakeSupervisor{}
	repo := &fakeRepository{user: newTestUser()}
	proc := &fakeProcessor{}
	client := &fakeClient{
		authErr: errors.WithKind(errors.KindAuth, errors.ErrAuthenticationError),
	}
	w := newTestWorker(sup, user, client, repo, proc)

	// Act
	w.Run(context.Background())

	// Assert
	assert.Equal(t, 1, sup.incrementedCount())
	assert.Equal(t, 0, repo.lastLoginCalls, "failed login must not stamp last_login_at")
	assert.Empty(t, repo.statusUpdates, "auth failures skip the status write")
	assert.Equal(t, []string{"user-test-1"}, sup.disconnected)
}

func TestRun_ConnectFailureMarksNotActive(t *testing.T) {
	// Arrange
	user := newTestUser()
	sup := &fakeSupervisor{}
	repo := &fakeRepository{user: newTestUser()}
	w := NewUserWorker(sup, user, Options{
		Dialer:     &fakeDialer{err: errors.WithKind(errors.KindIO, errors.ErrClientNotConnected)},
		Repository: repo,
		Processor:  &fakeProcessor{},
		Log:        getLogger(),
	})

	// Act
	w.Run(context.Background())

	// Assert
	assert.Equal(t, 1, sup.incrementedCount())
	assert.Equal(t, []enum.ConnectionStatus{enum.ConnectionNotActive}, repo.statusUpdates)
}

func TestDelayStart_InterruptedByStop(t *testing.T) {
	// Arrange: error count 3 means a 26s delay.
	user := newTestUser()
	sup := &fakeSupervisor{errorCount: 3}
	w := newTestWorker(sup, user, &fakeClient{}, &fakeRepository{user: user}, &fakeProcessor{})
	w.running.Store(true)

	done := make(chan error, 1)
	go func() {
		done <- w.delayStart(context.Background())
	}()

	// Act
	w.Stop()

	// Assert
	select {
	case err := <-done:
		assert.Equal(t, errors.ErrWorkerStopped, err)
	case <-time.After(2 * time.Second):
		t.Fatal("delayStart did not observe the stop signal")
	}
}

func TestDelayStart_NoDelayForHealthyUser(t *testing.T) {
	user := newTestUser()
	w := newTestWorker(&fakeSupervisor{}, user, &fakeClient{}, &fakeRepository{user: user}, &fakeProcessor{})

	start := time.Now()
	err := w.delayStart(context.Background())

	assert.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStop_Idempotent(t *testing.T) {
	user := newTestUser()
	w := newTestWorker(&fakeSupervisor{}, user, &fakeClient{}, &fakeRepository{user: user}, &fakeProcessor{})

	w.Stop()
	w.Stop()

	assert.False(t, w.isRunning())
}

func TestTeardown_RunsExactlyOnce(t *testing.T) {
	// Arrange
	user := newTestUser()
	sup := &fakeSupervisor{}
	client := &fakeClient{}
	w := newTestWorker(sup, user, client, &fakeRepository{user: user}, &fakeProcessor{})
	w.client = client

	// Act
	w.teardown()
	w.teardown()

	// Assert
	assert.Equal(t, 1, client.logoutCalls)
	assert.Equal(t, 1, client.disconnectCalls)
	assert.Equal(t, []string{"user-test-1"}, sup.disconnected)
	assert.Nil(t, w.client)
}

func TestSchedule_PoolRejectionIsBridgeFailure(t *testing.T) {
	user := newTestUser()
	sup := &fakeSupervisor{submitErr: errors.ErrPoolSaturated}
	w := newTestWorker(sup, user, &fakeClient{}, &fakeRepository{user: user}, &fakeProcessor{})
	w.running.Store(true)

	err := w.schedule(context.Background(), func(ctx context.Context) error { return nil })

	assert.Equal(t, errors.KindBridge, errors.KindOf(err))
}

func TestSchedule_TaskFailureIsBridgeFailure(t *testing.T) {
	user := newTestUser()
	w := newTestWorker(&fakeSupervisor{}, user, &fakeClient{}, &fakeRepository{user: user}, &fakeProcessor{})
	w.running.Store(true)

	err := w.schedule(context.Background(), func(ctx context.Context) error {
		return errors.ErrUserNotFound
	})

	assert.Equal(t, errors.KindBridge, errors.KindOf(err))
}

func TestSchedule_StopInterruptsWait(t *testing.T) {
	// Arrange: the supervisor accepts the task but never runs it.
	user := newTestUser()
	sup := &fakeSupervisor{swallowTasks: true}
	w := newTestWorker(sup, user, &fakeClient{}, &fakeRepository{user: user}, &fakeProcessor{})
	w.running.Store(true)

	done := make(chan error, 1)
	go func() {
		done <- w.schedule(context.Background(), func(ctx context.Context) error { return nil })
	}()

	// Act
	w.Stop()

	// Assert
	select {
	case err := <-done:
		assert.Equal(t, errors.ErrWorkerStopped, err)
	case <-time.After(2 * time.Second):
		t.Fatal("schedule did not observe the stop signal")
	}
}

func TestWaitForEmail_HandlerSemantics(t *testing.T) {
	// Arrange
	user := newTestUser()
	client := &fakeClient{}
	w := newTestWorker(&fakeSupervisor{}, user, client, &fakeRepository{user: user}, &fakeProcessor{})
	w.client = client
	w.running.Store(true)

	var captured interfaces.IdleHandler
	client.idle = func(ctx context.Context, stop <-chan struct{}, handler interfaces.IdleHandler) error {
		captured = handler
		return nil
	}

	// Act
	err := w.waitForEmail(context.Background())

	// Assert
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.True(t, captured(interfaces.IdleEvent{Name: "EXISTS", Count: 7}))
	assert.True(t, captured(interfaces.IdleEvent{Name: "BYE"}))
	assert.False(t, captured(interfaces.IdleEvent{Name: "EXPUNGE"}))
	assert.False(t, captured(interfaces.IdleEvent{Name: "FETCH"}))

	w.Stop()
	assert.True(t, captured(interfaces.IdleEvent{Name: "EXPUNGE"}), "a stopped worker ends the idle on any event")
}

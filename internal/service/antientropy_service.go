package service

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	storeerrors "github.com/opennetworkinglab/onos-sub118/internal/errors"
	"github.com/opennetworkinglab/onos-sub118/internal/metrics"
	"github.com/opennetworkinglab/onos-sub118/internal/model"
	"github.com/opennetworkinglab/onos-sub118/internal/store"
	"github.com/opennetworkinglab/onos-sub118/internal/wire"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AntiEntropyConfig holds anti-entropy configuration
type AntiEntropyConfig struct {
	Enabled      bool
	Interval     time.Duration
	Jitter       time.Duration
	InitialDelay time.Duration
	RoundTimeout time.Duration
	RepairRate   float64 // repair messages per second, 0 = unlimited
	RepairBurst  int
}

// DefaultAntiEntropyConfig returns the defaults used when no config file
// overrides them
func DefaultAntiEntropyConfig() *AntiEntropyConfig {
	return &AntiEntropyConfig{
		Enabled:      true,
		Interval:     5 * time.Second,
		Jitter:       time.Second,
		InitialDelay: 5 * time.Second,
		RoundTimeout: 10 * time.Second,
		RepairRate:   1000,
		RepairBurst:  100,
	}
}

// AntiEntropyService periodically exchanges digests with a random peer and
// repairs whatever the two stores disagree on
type AntiEntropyService struct {
	config    *AntiEntropyConfig
	store     *store.Store
	messenger *Messenger
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	logger    *zap.Logger

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewAntiEntropyService creates a new anti-entropy service
func NewAntiEntropyService(
	config *AntiEntropyConfig,
	st *store.Store,
	messenger *Messenger,
	m *metrics.Metrics,
	logger *zap.Logger,
) *AntiEntropyService {
	if config == nil {
		config = DefaultAntiEntropyConfig()
	}
	limit := rate.Inf
	if config.RepairRate > 0 {
		limit = rate.Limit(config.RepairRate)
	}
	burst := config.RepairBurst
	if burst <= 0 {
		burst = 1
	}
	if config.RoundTimeout <= 0 {
		config.RoundTimeout = 10 * time.Second
	}
	return &AntiEntropyService{
		config:    config,
		store:     st,
		messenger: messenger,
		limiter:   rate.NewLimiter(limit, burst),
		metrics:   m,
		logger:    logger,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start starts the periodic rounds
func (s *AntiEntropyService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.config.Enabled || s.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Anti-entropy service started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("jitter", s.config.Jitter))
}

// Stop stops the periodic rounds and waits for the current one to finish
func (s *AntiEntropyService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Anti-entropy service stopped")
}

func (s *AntiEntropyService) loop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(s.config.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := s.RunRound(ctx); err != nil && !storeerrors.HasCode(err, storeerrors.ErrCodeNoPeers) {
				s.logRoundError(err)
			}
			s.store.CompactTombstones()
			timer.Reset(s.nextInterval())
		}
	}
}

func (s *AntiEntropyService) nextInterval() time.Duration {
	d := s.config.Interval
	if d <= 0 {
		d = 5 * time.Second
	}
	if s.config.Jitter > 0 {
		s.rndMu.Lock()
		d += time.Duration(s.rnd.Int63n(int64(2*s.config.Jitter))) - s.config.Jitter
		s.rndMu.Unlock()
	}
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

func (s *AntiEntropyService) logRoundError(err error) {
	if storeerrors.HasCode(err, storeerrors.ErrCodeReconciliationTimeout) {
		s.logger.Info("Anti-entropy round timed out", zap.Error(err))
		return
	}
	s.logger.Warn("Anti-entropy round failed", zap.Error(err))
}

// RunRound sends the local digest to one random peer
func (s *AntiEntropyService) RunRound(ctx context.Context) error {
	peers := s.messenger.Peers()
	if len(peers) == 0 {
		s.metrics.RecordRound("no_peers", 0)
		return storeerrors.NoPeers()
	}
	s.rndMu.Lock()
	peer := peers[s.rnd.Intn(len(peers))]
	s.rndMu.Unlock()

	return s.SyncWith(ctx, peer)
}

// SyncWith sends the local digest to peer. The peer answers with repairs
// and, if it holds newer state, a reactive digest of its own.
func (s *AntiEntropyService) SyncWith(ctx context.Context, peer string) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.config.RoundTimeout)
	defer cancel()

	digest := wire.NewDigest(s.messenger.NodeID(), uuid.New().String(), s.store.Digest())
	err := s.messenger.Send(ctx, peer, digest)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = storeerrors.ReconciliationTimeout(peer, err)
			s.metrics.RecordRound("timeout", time.Since(start))
		} else {
			s.metrics.RecordRound("failed", time.Since(start))
		}
		return err
	}

	s.metrics.RecordRound("ok", time.Since(start))
	s.logger.Debug("Sent anti-entropy digest",
		zap.String("peer", peer),
		zap.String("round_id", digest.RoundID),
		zap.Int("live", len(digest.Live)),
		zap.Int("tombstones", len(digest.Tombstones)))
	return nil
}

// HandleDigest reconciles against a peer's digest
func (s *AntiEntropyService) HandleDigest(ctx context.Context, msg *wire.AntiEntropyDigest) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RoundTimeout)
	defer cancel()

	if err := s.reconcile(ctx, msg); err != nil {
		s.logRoundError(err)
	}
}

// repairPlan is what one side does after comparing digests
type repairPlan struct {
	// fragments to push to the peer
	pushUpdates []model.FragmentKey
	// removals to push to the peer
	pushRemovals map[model.EntityKey]model.Timestamp
	// removals the peer knows about and we do not
	applyRemovals map[model.EntityKey]model.Timestamp
	// peer holds state we lack
	pull bool
}

// planRepairs compares the local digest against a peer's
func planRepairs(ours, theirs *store.Digest) repairPlan {
	plan := repairPlan{
		pushRemovals:  make(map[model.EntityKey]model.Timestamp),
		applyRemovals: make(map[model.EntityKey]model.Timestamp),
	}

	// effective local tombstones once the peer's newer ones are applied
	dead := make(map[model.EntityKey]model.Timestamp, len(ours.Tombstones)+len(theirs.Tombstones))
	for key, ts := range ours.Tombstones {
		dead[key] = ts
	}
	for key, rts := range theirs.Tombstones {
		if lts, ok := ours.Tombstones[key]; !ok || rts.IsNewerThan(lts) {
			plan.applyRemovals[key] = rts
			dead[key] = rts
		}
	}

	for fk, ts := range ours.Live {
		if floor, ok := dead[fk.Key]; ok && !ts.IsNewerThan(floor) {
			continue
		}
		rts, ok := theirs.Live[fk]
		switch {
		case !ok:
			if rt, dropped := theirs.Tombstones[fk.Key]; dropped && !ts.IsNewerThan(rt) {
				continue
			}
			plan.pushUpdates = append(plan.pushUpdates, fk)
		case ts.IsNewerThan(rts):
			plan.pushUpdates = append(plan.pushUpdates, fk)
		case rts.IsNewerThan(ts):
			plan.pull = true
		}
	}

	// oldest live fragment the peer holds per key
	oldest := make(map[model.EntityKey]model.Timestamp)
	for fk, rts := range theirs.Live {
		if cur, ok := oldest[fk.Key]; !ok || rts.Compare(cur) < 0 {
			oldest[fk.Key] = rts
		}
		if _, ok := ours.Live[fk]; ok {
			continue
		}
		if floor, ok := dead[fk.Key]; ok && !rts.IsNewerThan(floor) {
			continue
		}
		plan.pull = true
	}

	for key, lts := range ours.Tombstones {
		if rt, ok := theirs.Tombstones[key]; ok && !lts.IsNewerThan(rt) {
			continue
		}
		if o, ok := oldest[key]; ok && !o.IsNewerThan(lts) {
			plan.pushRemovals[key] = lts
		}
	}

	sort.Slice(plan.pushUpdates, func(i, j int) bool {
		a, b := plan.pushUpdates[i], plan.pushUpdates[j]
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Provider < b.Provider
	})
	return plan
}

// reconcile applies the peer's newer removals, pushes what the peer is
// missing and, unless msg already answers one of ours, asks for what we
// are missing
func (s *AntiEntropyService) reconcile(ctx context.Context, msg *wire.AntiEntropyDigest) error {
	peer := msg.SenderID
	plan := planRepairs(s.store.Digest(), msg.Snapshot())

	for key, ts := range plan.applyRemovals {
		if d := s.store.ApplyRemoval(key, ts); d.Effective() {
			s.metrics.RecordRepair("applied_removal")
		}
	}

	for _, fk := range plan.pushUpdates {
		frag, ok := s.store.Fragment(fk)
		if !ok {
			continue
		}
		if err := s.sendRepair(ctx, peer, wire.NewEntityChanged(s.messenger.NodeID(), frag)); err != nil {
			return err
		}
		s.metrics.RecordRepair("pushed_update")
	}

	for key, ts := range plan.pushRemovals {
		if err := s.sendRepair(ctx, peer, &wire.EntityRemoved{SenderID: s.messenger.NodeID(), Key: key, Timestamp: ts}); err != nil {
			return err
		}
		s.metrics.RecordRepair("pushed_removal")
	}

	if plan.pull && !msg.Reactive {
		reply := wire.NewDigest(s.messenger.NodeID(), msg.RoundID, s.store.Digest())
		reply.Reactive = true
		if err := s.sendRepair(ctx, peer, reply); err != nil {
			return err
		}
	}

	if len(plan.pushUpdates)+len(plan.pushRemovals)+len(plan.applyRemovals) > 0 || plan.pull {
		s.logger.Debug("Reconciled with peer",
			zap.String("peer", peer),
			zap.String("round_id", msg.RoundID),
			zap.Int("pushed_updates", len(plan.pushUpdates)),
			zap.Int("pushed_removals", len(plan.pushRemovals)),
			zap.Int("applied_removals", len(plan.applyRemovals)),
			zap.Bool("pull", plan.pull && !msg.Reactive))
	}
	return nil
}

func (s *AntiEntropyService) sendRepair(ctx context.Context, peer string, msg wire.Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return storeerrors.ReconciliationTimeout(peer, err)
	}
	if err := s.messenger.Send(ctx, peer, msg); err != nil {
		if ctx.Err() != nil {
			return storeerrors.ReconciliationTimeout(peer, err)
		}
		return err
	}
	return nil
}

// LocalState returns the encoded local digest for a transport-level state
// exchange
func (s *AntiEntropyService) LocalState(join bool) []byte {
	digest := wire.NewDigest(s.messenger.NodeID(), uuid.New().String(), s.store.Digest())
	buf, err := s.messenger.Encode(digest)
	if err != nil {
		s.logger.Warn("Failed to encode local state", zap.Error(err))
		return nil
	}
	return buf
}

// MergeRemoteState reconciles against a digest received through a
// transport-level state exchange. Both sides of such an exchange merge the
// other's digest, so no reactive digest is sent back.
func (s *AntiEntropyService) MergeRemoteState(buf []byte, join bool) {
	if len(buf) == 0 {
		return
	}
	msg, err := s.messenger.Decode(buf)
	if err != nil {
		s.metrics.RecordMalformed()
		s.logger.Warn("Dropping malformed remote state", zap.Error(err))
		return
	}
	digest, ok := msg.(*wire.AntiEntropyDigest)
	if !ok || digest.SenderID == s.messenger.NodeID() {
		return
	}
	digest.Reactive = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.HandleDigest(context.Background(), digest)
	}()
}

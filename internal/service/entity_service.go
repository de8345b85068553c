package service

import (
	"context"

	"github.com/opennetworkinglab/onos-sub118/internal/clock"
	"github.com/opennetworkinglab/onos-sub118/internal/model"
	"github.com/opennetworkinglab/onos-sub118/internal/store"
	"github.com/opennetworkinglab/onos-sub118/internal/validation"
	"github.com/opennetworkinglab/onos-sub118/internal/wire"
	"go.uber.org/zap"
)

// EntityService is the inbound API of the replicated store. Writes are
// stamped, merged locally and gossiped; they never wait on peers.
type EntityService struct {
	nodeID    string
	store     *store.Store
	clock     clock.Source
	messenger *Messenger
	validator *validation.Validator
	logger    *zap.Logger
}

// NewEntityService creates a new entity service
func NewEntityService(st *store.Store, src clock.Source, messenger *Messenger, logger *zap.Logger) *EntityService {
	return &EntityService{
		nodeID:    messenger.NodeID(),
		store:     st,
		clock:     src,
		messenger: messenger,
		validator: validation.NewValidator(),
		logger:    logger,
	}
}

// CreateOrUpdate records the default provider's description of key
func (s *EntityService) CreateOrUpdate(ctx context.Context, key model.EntityKey, desc *model.Description) (model.Delta, error) {
	return s.CreateOrUpdateFragment(ctx, key, model.DefaultProvider, desc)
}

// CreateOrUpdateFragment records one provider's description of key. Only
// argument errors are returned; replication problems are not the
// caller's concern.
func (s *EntityService) CreateOrUpdateFragment(ctx context.Context, key model.EntityKey, provider model.ProviderID, desc *model.Description) (model.Delta, error) {
	if err := s.validator.ValidateWrite(key, provider, desc); err != nil {
		return model.Delta{}, err
	}

	frag := &model.Fragment{
		Key:         key,
		Provider:    provider,
		Description: desc,
		Timestamp:   s.clock.Next(key),
	}
	delta, stored := s.store.ApplyCreateOrUpdate(frag)

	s.logger.Debug("Local write applied",
		zap.String("key", string(key)),
		zap.String("provider", string(provider)),
		zap.Stringer("outcome", delta.Outcome))

	if delta.Effective() {
		s.messenger.Broadcast(wire.NewEntityChanged(s.nodeID, stored))
	}
	return delta, nil
}

// Remove deletes key cluster-wide
func (s *EntityService) Remove(ctx context.Context, key model.EntityKey) (model.Delta, error) {
	if err := s.validator.ValidateKey(key); err != nil {
		return model.Delta{}, err
	}

	ts := s.clock.Next(key)
	delta := s.store.ApplyRemoval(key, ts)

	s.logger.Debug("Local removal applied",
		zap.String("key", string(key)),
		zap.Stringer("outcome", delta.Outcome))

	if delta.Effective() {
		s.messenger.Broadcast(&wire.EntityRemoved{SenderID: s.nodeID, Key: key, Timestamp: ts})
	}
	return delta, nil
}

// Get returns a snapshot of key's canonical value
func (s *EntityService) Get(key model.EntityKey) (*model.Entity, bool) {
	return s.store.Get(key)
}

// GetAll returns snapshots of every live entity
func (s *EntityService) GetAll() []*model.Entity {
	return s.store.GetAll()
}

// GetByIndex returns snapshots of entities under a derived key
func (s *EntityService) GetByIndex(ik model.IndexKey) []*model.Entity {
	return s.store.GetByIndex(ik)
}

// GetByLocation returns entities at loc
func (s *EntityService) GetByLocation(loc string) []*model.Entity {
	return s.store.GetByLocation(loc)
}

// GetByAttribute returns entities annotated name=value
func (s *EntityService) GetByAttribute(name, value string) []*model.Entity {
	return s.store.GetByAttribute(name, value)
}

// GetByProvider returns entities reported by p
func (s *EntityService) GetByProvider(p model.ProviderID) []*model.Entity {
	return s.store.GetByProvider(p)
}

// GetByAddress returns entities carrying addr
func (s *EntityService) GetByAddress(addr string) []*model.Entity {
	return s.store.GetByAddress(addr)
}

// Count returns the number of live entities
func (s *EntityService) Count() int {
	return s.store.Count()
}

// SetDelegate registers the listener for effective changes
func (s *EntityService) SetDelegate(d store.Delegate) {
	s.store.SetDelegate(d)
}

// HandleEntityChanged applies a peer's fragment. The result is never
// re-broadcast.
func (s *EntityService) HandleEntityChanged(_ context.Context, msg *wire.EntityChanged) {
	delta, _ := s.store.ApplyCreateOrUpdate(msg.Fragment())
	s.logger.Debug("Peer update applied",
		zap.String("from", msg.SenderID),
		zap.String("key", string(msg.Key)),
		zap.String("provider", string(msg.Provider)),
		zap.Stringer("outcome", delta.Outcome))
}

// HandleEntityRemoved applies a peer's removal. The result is never
// re-broadcast.
func (s *EntityService) HandleEntityRemoved(_ context.Context, msg *wire.EntityRemoved) {
	delta := s.store.ApplyRemoval(msg.Key, msg.Timestamp)
	s.logger.Debug("Peer removal applied",
		zap.String("from", msg.SenderID),
		zap.String("key", string(msg.Key)),
		zap.Stringer("outcome", delta.Outcome))
}

// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package quota is the per-organization admission controller. It gates
// billable actions on the billing period status, enforces numeric plan
// limits against a cached usage snapshot plus unflushed local counts, and
// batches counter writes behind per-action flush thresholds.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/logger"
	"github.com/airweave/airweave-go/pkg/metastore"
)

// snapshotTTL bounds how stale the cached usage snapshot may get before
// admission decisions re-read the database.
const snapshotTTL = 30 * time.Second

// flushThresholds buffer cheap high-volume counts and write rare expensive
// ones through immediately.
var flushThresholds = map[core.Action]int64{
	core.ActionEntities:          100,
	core.ActionQueries:           1,
	core.ActionSourceConnections: 1,
}

// blockedIn is the status gate: actions forbidden outright in a billing
// status, before any numeric limit applies.
var blockedIn = map[core.BillingPeriodStatus]map[core.Action]bool{
	core.BillingGrace: {
		core.ActionSourceConnections: true,
	},
	core.BillingEndedUnpaid: {
		core.ActionEntities:          true,
		core.ActionSourceConnections: true,
	},
	core.BillingCompleted: {
		core.ActionEntities:          true,
		core.ActionQueries:           true,
		core.ActionSourceConnections: true,
	},
}

// MemberCounter reports an organization's current membership size.
// team_members is never accumulated; the guard reads it live on admission.
type MemberCounter func(ctx context.Context, orgID uuid.UUID) (int64, error)

// Guard admits billable actions for organizations. One Guard serves the
// whole process; per-organization state is created on first use.
type Guard struct {
	store   metastore.BillingStore
	members MemberCounter

	mu   sync.Mutex
	orgs map[uuid.UUID]*orgState
}

// Option adjusts a guard.
type Option func(*Guard)

// WithMemberCounter wires the live membership count consulted for
// team_members admission. Without one the count reads as zero and only the
// requested delta is checked against the limit.
func WithMemberCounter(fn MemberCounter) Option {
	return func(g *Guard) { g.members = fn }
}

type orgState struct {
	// mu serializes admission, increment and flush so thresholds are
	// observed, not raced.
	mu sync.Mutex

	legacy    bool
	period    core.BillingPeriod
	usage     core.Usage
	fetchedAt time.Time

	pending map[core.Action]int64
}

// New builds a guard over the billing store.
func New(store metastore.BillingStore, opts ...Option) *Guard {
	g := &Guard{store: store, orgs: make(map[uuid.UUID]*orgState)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) org(orgID uuid.UUID) *orgState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.orgs[orgID]
	if !ok {
		st = &orgState{pending: make(map[core.Action]int64)}
		g.orgs[orgID] = st
	}
	return st
}

// refreshLocked re-reads the billing period and usage snapshot when the
// cache is older than the TTL. Callers hold st.mu.
func (g *Guard) refreshLocked(ctx context.Context, orgID uuid.UUID, st *orgState) error {
	if !st.fetchedAt.IsZero() && time.Since(st.fetchedAt) < snapshotTTL {
		return nil
	}

	period, err := g.store.CurrentPeriod(ctx, orgID)
	if errors.Is(err, core.ErrNotFound) {
		st.legacy = true
		st.fetchedAt = time.Now()
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading billing period: %w", err)
	}

	usage, err := g.store.Usage(ctx, orgID, period.ID)
	if err != nil {
		return fmt.Errorf("loading usage snapshot: %w", err)
	}

	st.legacy = false
	st.period = period
	st.usage = usage
	st.fetchedAt = time.Now()
	return nil
}

// Allowed admits n units of action. It returns a PaymentRequiredError when
// the billing status forbids the action, a QuotaError when the plan limit
// would be exceeded counting unflushed local usage, and nil otherwise.
// Legacy organizations without billing periods are always admitted.
func (g *Guard) Allowed(ctx context.Context, orgID uuid.UUID, action core.Action, n int64) error {
	st := g.org(orgID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := g.refreshLocked(ctx, orgID, st); err != nil {
		return err
	}
	if st.legacy {
		logger.Debugw("quota bypass for organization without billing",
			"organization_id", orgID.String(), "action", string(action))
		return nil
	}

	if blockedIn[st.period.Status][action] {
		return &core.PaymentRequiredError{Action: action, Status: st.period.Status}
	}

	limit := limitFor(&st.period, action)
	if limit == nil {
		return nil
	}
	current := usageFor(&st.usage, action) + st.pending[action]
	if action == core.ActionTeamMembers && g.members != nil {
		live, err := g.members(ctx, orgID)
		if err != nil {
			return fmt.Errorf("counting team members: %w", err)
		}
		current = live
	}
	if current+n > *limit {
		return &core.QuotaError{Action: action, Limit: *limit, Current: current, Requested: n}
	}
	return nil
}

// Increment buffers n units of action, flushing to the database once the
// action's threshold is crossed. Legacy organizations drop the count.
func (g *Guard) Increment(ctx context.Context, orgID uuid.UUID, action core.Action, n int64) error {
	return g.add(ctx, orgID, action, n)
}

// Decrement rolls back admitted usage after a failed write.
func (g *Guard) Decrement(ctx context.Context, orgID uuid.UUID, action core.Action, n int64) error {
	return g.add(ctx, orgID, action, -n)
}

func (g *Guard) add(ctx context.Context, orgID uuid.UUID, action core.Action, n int64) error {
	if action == core.ActionTeamMembers {
		return fmt.Errorf("%w: team_members is counted live, not accumulated", core.ErrValidation)
	}
	if n == 0 {
		return nil
	}

	st := g.org(orgID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := g.refreshLocked(ctx, orgID, st); err != nil {
		return err
	}
	if st.legacy {
		logger.Debugw("usage not recorded for organization without billing",
			"organization_id", orgID.String(), "action", string(action), "count", n)
		return nil
	}

	st.pending[action] += n

	threshold := flushThresholds[action]
	if p := st.pending[action]; p >= threshold || p <= -threshold {
		return g.flushActionLocked(ctx, orgID, st, action)
	}
	return nil
}

// FlushAll drains every pending counter of the organization. The engine
// calls it at the end of every job so partial usage is recorded even on
// failure.
func (g *Guard) FlushAll(ctx context.Context, orgID uuid.UUID) error {
	st := g.org(orgID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.legacy {
		return nil
	}

	var errs []error
	for action, pending := range st.pending {
		if pending == 0 {
			continue
		}
		if err := g.flushActionLocked(ctx, orgID, st, action); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown flushes all organizations, for process exit.
func (g *Guard) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	ids := make([]uuid.UUID, 0, len(g.orgs))
	for id := range g.orgs {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := g.FlushAll(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("flushing %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// flushActionLocked writes one pending counter through and refreshes the
// usage snapshot from the returned row. Callers hold st.mu.
func (g *Guard) flushActionLocked(ctx context.Context, orgID uuid.UUID, st *orgState, action core.Action) error {
	delta := st.pending[action]
	if delta == 0 {
		return nil
	}

	usage, err := g.store.AddUsage(ctx, orgID, st.period.ID, action, delta)
	if err != nil {
		return fmt.Errorf("flushing %s usage: %w", action, err)
	}

	delete(st.pending, action)
	st.usage = usage
	st.fetchedAt = time.Now()
	return nil
}

func limitFor(p *core.BillingPeriod, action core.Action) *int64 {
	switch action {
	case core.ActionEntities:
		return p.MaxEntities
	case core.ActionQueries:
		return p.MaxQueries
	case core.ActionSourceConnections:
		return p.MaxSourceConnections
	case core.ActionTeamMembers:
		return p.MaxTeamMembers
	default:
		return nil
	}
}

func usageFor(u *core.Usage, action core.Action) int64 {
	switch action {
	case core.ActionEntities:
		return u.Entities
	case core.ActionQueries:
		return u.Queries
	case core.ActionSourceConnections:
		return u.SourceConnections
	default:
		return 0
	}
}

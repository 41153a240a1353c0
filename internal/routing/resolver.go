package routing

import (
	"context"
	"fmt"
	"sort"

	"task-router/internal/common/logging"
)

// HandlerResolver implements the Resolver interface. It expands person,
// team, queue, and round-robin handler references into a concrete assignee
// plus ranked alternatives, reading load from the workload collaborator and
// the engine's own in-flight counters.
//
// Round-robin cursors are owned exclusively by this component. The resolver
// only ever reads a cursor; the advance it computes is carried on the
// Resolution and applied by the composer's durable commit, so two concurrent
// routing attempts cannot both consume the same slot.
type HandlerResolver struct {
	store           Store
	capacity        CapacityProvider
	defaultQueueID  string
	maxAlternatives int
	logger          logging.Logger
}

// ResolverOptions configures a HandlerResolver.
type ResolverOptions struct {
	// DefaultQueueID is the terminal fallback; it must reference an existing
	// queue or resolution can fail entirely.
	DefaultQueueID string
	// MaxAlternatives caps the ranked alternative list (default 3).
	MaxAlternatives int
}

// NewHandlerResolver creates a resolver.
func NewHandlerResolver(store Store, capacity CapacityProvider, opts ResolverOptions) *HandlerResolver {
	if opts.MaxAlternatives <= 0 {
		opts.MaxAlternatives = 3
	}
	return &HandlerResolver{
		store:           store,
		capacity:        capacity,
		defaultQueueID:  opts.DefaultQueueID,
		maxAlternatives: opts.MaxAlternatives,
		logger:          logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "handler-resolver"}),
	}
}

// Resolve expands a rule's handler, honoring the rule's workload limit and
// fallback chain. A rule over its limit is skipped in favor of its fallback;
// with no fallback, the candidate comes from same-skill persons ranked by
// ascending load. Resolution fails closed: a broken reference falls through
// to the fallback and finally the default queue, never to an unassigned
// state.
func (r *HandlerResolver) Resolve(ctx context.Context, rule *RoutingRule, req *RoutingRequest) (*Resolution, error) {
	overLimit := false
	if rule.WorkloadLimit != nil {
		inFlight, err := r.store.RuleInFlight(ctx, rule.ID)
		if err != nil {
			r.logger.Warn("in-flight count unavailable, assuming within limit",
				logging.Field{Key: "rule_id", Value: rule.ID},
				logging.Field{Key: "error", Value: err.Error()})
		} else if inFlight >= *rule.WorkloadLimit {
			overLimit = true
		}
	}

	if !overLimit {
		res, err := r.resolveHandler(ctx, rule.Handler, rule.ID, req)
		if err == nil {
			return res, nil
		}
		r.logger.Warn("primary handler resolution failed, trying fallback",
			logging.Field{Key: "rule_id", Value: rule.ID},
			logging.Field{Key: "error", Value: err.Error()})
	}

	if rule.FallbackHandler != nil {
		res, err := r.resolveHandler(ctx, *rule.FallbackHandler, rule.ID, req)
		if err == nil {
			res.UsedFallback = true
			return res, nil
		}
		r.logger.Warn("fallback handler resolution failed",
			logging.Field{Key: "rule_id", Value: rule.ID},
			logging.Field{Key: "error", Value: err.Error()})
	} else if overLimit && rule.Handler.Type == HandlerPerson {
		// Over limit with no fallback: reassign among same-skill persons by
		// ascending load.
		if res, err := r.resolveBySkill(ctx, req, rule.Handler.PersonID); err == nil {
			res.UsedFallback = true
			return res, nil
		}
	}

	res, err := r.defaultQueueResolution(ctx)
	if err != nil {
		return nil, err
	}
	res.UsedFallback = true
	return res, nil
}

// ResolveHandler resolves a bare handler reference with the same fail-closed
// semantics, used by escalation steps and manual reroutes.
func (r *HandlerResolver) ResolveHandler(ctx context.Context, h RouteHandler, req *RoutingRequest) (*Resolution, error) {
	res, err := r.resolveHandler(ctx, h, "", req)
	if err == nil {
		return res, nil
	}
	r.logger.Warn("handler resolution failed, using default queue",
		logging.Field{Key: "handler_type", Value: string(h.Type)},
		logging.Field{Key: "handler_id", Value: h.ID()},
		logging.Field{Key: "error", Value: err.Error()})

	fallback, derr := r.defaultQueueResolution(ctx)
	if derr != nil {
		return nil, derr
	}
	fallback.UsedFallback = true
	return fallback, nil
}

func (r *HandlerResolver) resolveHandler(ctx context.Context, h RouteHandler, ruleID string, req *RoutingRequest) (*Resolution, error) {
	switch h.Type {
	case HandlerPerson:
		return r.resolvePerson(ctx, h, req)
	case HandlerTeam:
		return r.resolveTeam(ctx, h, req)
	case HandlerQueue:
		return r.resolveQueue(ctx, h)
	case HandlerRoundRobin:
		return r.resolveRoundRobin(ctx, h, ruleID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandlerType, h.Type)
	}
}

func (r *HandlerResolver) resolvePerson(ctx context.Context, h RouteHandler, req *RoutingRequest) (*Resolution, error) {
	person, err := r.store.GetPerson(ctx, h.PersonID)
	if err != nil {
		return nil, fmt.Errorf("%w: person %s", ErrHandlerNotFound, h.PersonID)
	}
	if !person.IsActive {
		return nil, fmt.Errorf("%w: person %s is inactive", ErrHandlerNotFound, h.PersonID)
	}

	cap := r.getCapacity(ctx, person.ID)
	res := &Resolution{
		Candidate:      ConcreteHandler{Kind: HandlerPerson, ID: person.ID, Name: person.Name},
		SkillMatch:     skillMatch(person.Skills, req.Categories),
		Availability:   cap.Headroom(),
		EscalationPath: h.EscalationPath,
	}
	res.Alternatives = r.skillAlternatives(ctx, req, person.ID)
	return res, nil
}

// resolveTeam picks the least-loaded active member; ties are broken by
// advancing the team's round-robin cursor so repeated ties spread evenly.
func (r *HandlerResolver) resolveTeam(ctx context.Context, h RouteHandler, req *RoutingRequest) (*Resolution, error) {
	team, err := r.store.GetTeam(ctx, h.TeamID)
	if err != nil {
		return nil, fmt.Errorf("%w: team %s", ErrHandlerNotFound, h.TeamID)
	}

	type member struct {
		person *Person
		cap    Capacity
	}
	members := make([]member, 0, len(team.MemberIDs))
	for _, id := range team.MemberIDs {
		p, err := r.store.GetPerson(ctx, id)
		if err != nil || !p.IsActive {
			continue
		}
		members = append(members, member{person: p, cap: r.getCapacity(ctx, p.ID)})
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: team %s has no available members", ErrHandlerNotFound, h.TeamID)
	}

	sort.SliceStable(members, func(i, j int) bool {
		return members[i].cap.ActiveTasks < members[j].cap.ActiveTasks
	})

	minLoad := members[0].cap.ActiveTasks
	tied := 0
	for tied < len(members) && members[tied].cap.ActiveTasks == minLoad {
		tied++
	}

	res := &Resolution{EscalationPath: h.EscalationPath}
	pickIdx := 0
	if tied > 1 {
		cursorKey := "team:" + team.ID
		cursor, err := r.store.GetCursor(ctx, cursorKey)
		if err != nil {
			cursor = 0
		}
		pickIdx = cursor % tied
		res.CursorKey = cursorKey
		res.CursorNext = cursor + 1
	}

	chosen := members[pickIdx]
	res.Candidate = ConcreteHandler{Kind: HandlerPerson, ID: chosen.person.ID, Name: chosen.person.Name}
	res.SkillMatch = skillMatch(chosen.person.Skills, req.Categories)
	res.Availability = chosen.cap.Headroom()

	for i, m := range members {
		if i == pickIdx || len(res.Alternatives) >= r.maxAlternatives {
			continue
		}
		res.Alternatives = append(res.Alternatives, RankedHandler{
			Handler: ConcreteHandler{Kind: HandlerPerson, ID: m.person.ID, Name: m.person.Name},
			Score:   m.cap.Headroom(),
			Reason:  fmt.Sprintf("team member with %d active tasks", m.cap.ActiveTasks),
		})
	}
	return res, nil
}

func (r *HandlerResolver) resolveQueue(ctx context.Context, h RouteHandler) (*Resolution, error) {
	queue, err := r.store.GetQueue(ctx, h.QueueID)
	if err != nil {
		return nil, fmt.Errorf("%w: queue %s", ErrHandlerNotFound, h.QueueID)
	}
	// A queue takes anything; no individual is assigned and there are no
	// alternatives.
	return &Resolution{
		Candidate:      ConcreteHandler{Kind: HandlerQueue, ID: queue.ID, Name: queue.Name},
		SkillMatch:     0.5,
		Availability:   1.0,
		EscalationPath: h.EscalationPath,
	}, nil
}

// resolveRoundRobin selects pool[cursor % len(pool)]. The cursor is read
// here but advanced only when the composer commits the decision; a failed
// routing attempt leaves the rotation untouched. Pool members that no longer
// exist are skipped, consuming their slot.
func (r *HandlerResolver) resolveRoundRobin(ctx context.Context, h RouteHandler, ruleID string) (*Resolution, error) {
	if len(h.Pool) == 0 {
		return nil, ErrEmptyPool
	}

	cursorKey := "rr:" + h.ID()
	if ruleID != "" {
		cursorKey = "rr:" + ruleID
	}
	cursor, err := r.store.GetCursor(ctx, cursorKey)
	if err != nil {
		cursor = 0
	}

	for offset := 0; offset < len(h.Pool); offset++ {
		idx := (cursor + offset) % len(h.Pool)
		person, err := r.store.GetPerson(ctx, h.Pool[idx])
		if err != nil || !person.IsActive {
			continue
		}
		cap := r.getCapacity(ctx, person.ID)
		res := &Resolution{
			Candidate:      ConcreteHandler{Kind: HandlerPerson, ID: person.ID, Name: person.Name},
			SkillMatch:     0.5,
			Availability:   cap.Headroom(),
			CursorKey:      cursorKey,
			CursorNext:     cursor + offset + 1,
			EscalationPath: h.EscalationPath,
		}
		for i := 1; i < len(h.Pool) && len(res.Alternatives) < r.maxAlternatives; i++ {
			altIdx := (idx + i) % len(h.Pool)
			alt, err := r.store.GetPerson(ctx, h.Pool[altIdx])
			if err != nil || !alt.IsActive {
				continue
			}
			res.Alternatives = append(res.Alternatives, RankedHandler{
				Handler: ConcreteHandler{Kind: HandlerPerson, ID: alt.ID, Name: alt.Name},
				Score:   r.getCapacity(ctx, alt.ID).Headroom(),
				Reason:  "next in rotation",
			})
		}
		return res, nil
	}

	return nil, fmt.Errorf("%w: no live members in pool", ErrEmptyPool)
}

// resolveBySkill finds same-skill persons ranked by ascending load and
// promotes the least loaded to candidate. The skill profile comes from the
// over-limit person being replaced.
func (r *HandlerResolver) resolveBySkill(ctx context.Context, req *RoutingRequest, likePersonID string) (*Resolution, error) {
	origin, err := r.store.GetPerson(ctx, likePersonID)
	if err != nil {
		return nil, fmt.Errorf("%w: person %s", ErrHandlerNotFound, likePersonID)
	}
	candidates, err := r.store.ListPersonsBySkills(ctx, origin.Skills)
	if err != nil || len(candidates) == 0 {
		return nil, fmt.Errorf("no same-skill candidates for %s", likePersonID)
	}

	type scored struct {
		person *Person
		cap    Capacity
	}
	pool := make([]scored, 0, len(candidates))
	for _, p := range candidates {
		if p.ID == likePersonID || !p.IsActive {
			continue
		}
		pool = append(pool, scored{person: p, cap: r.getCapacity(ctx, p.ID)})
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("no same-skill candidates for %s", likePersonID)
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].cap.ActiveTasks < pool[j].cap.ActiveTasks
	})

	res := &Resolution{
		Candidate:    ConcreteHandler{Kind: HandlerPerson, ID: pool[0].person.ID, Name: pool[0].person.Name},
		SkillMatch:   skillMatch(pool[0].person.Skills, req.Categories),
		Availability: pool[0].cap.Headroom(),
	}
	for _, s := range pool[1:] {
		if len(res.Alternatives) >= r.maxAlternatives {
			break
		}
		res.Alternatives = append(res.Alternatives, RankedHandler{
			Handler: ConcreteHandler{Kind: HandlerPerson, ID: s.person.ID, Name: s.person.Name},
			Score:   s.cap.Headroom(),
			Reason:  fmt.Sprintf("same skills, %d active tasks", s.cap.ActiveTasks),
		})
	}
	return res, nil
}

func (r *HandlerResolver) skillAlternatives(ctx context.Context, req *RoutingRequest, excludeID string) []RankedHandler {
	res, err := r.resolveBySkill(ctx, req, excludeID)
	if err != nil {
		return nil
	}
	alts := append([]RankedHandler{{
		Handler: res.Candidate,
		Score:   res.Availability,
		Reason:  "same-skill candidate",
	}}, res.Alternatives...)
	if len(alts) > r.maxAlternatives {
		alts = alts[:r.maxAlternatives]
	}
	return alts
}

func (r *HandlerResolver) defaultQueueResolution(ctx context.Context) (*Resolution, error) {
	if r.defaultQueueID == "" {
		return nil, ErrRoutingUnresolved
	}
	res, err := r.resolveQueue(ctx, RouteHandler{Type: HandlerQueue, QueueID: r.defaultQueueID})
	if err != nil {
		return nil, ErrRoutingUnresolved
	}
	return res, nil
}

// getCapacity reads from the workload collaborator, degrading to a neutral
// snapshot when the collaborator is unavailable (breaker open, timeout).
func (r *HandlerResolver) getCapacity(ctx context.Context, handlerID string) Capacity {
	if r.capacity == nil {
		return Capacity{ActiveTasks: 0, Capacity: 2, BurnoutRisk: 0.5}
	}
	cap, err := r.capacity.GetCapacity(ctx, handlerID)
	if err != nil {
		r.logger.Debug("capacity read failed, using neutral snapshot",
			logging.Field{Key: "handler_id", Value: handlerID},
			logging.Field{Key: "error", Value: err.Error()})
		return Capacity{ActiveTasks: 0, Capacity: 2, BurnoutRisk: 0.5}
	}
	return cap
}

// skillMatch scores the overlap between a person's skills and the request's
// classifier categories. Either side empty yields a neutral 0.5.
func skillMatch(skills, categories []string) float64 {
	if len(skills) == 0 || len(categories) == 0 {
		return 0.5
	}
	hits := 0
	for _, c := range categories {
		if SliceContains(skills, c) {
			hits++
		}
	}
	return float64(hits) / float64(len(categories))
}

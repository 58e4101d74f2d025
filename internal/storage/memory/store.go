// Package memory is an in-process storage.Store. Every operation runs under one
// store-wide lock, so the capacity and single-binding checks in BindOperator are atomic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/storage"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

type pairKey struct {
	phone      string
	operatorID int64
}

// Store keeps every entity in maps guarded by mu.
type Store struct {
	mu       sync.Mutex
	capacity int
	clock    utils.Clock
	nextID   int64

	segments   map[string]*model.Segment
	lines      map[int64]*model.Line
	bindings   map[int64]int64 // operatorID -> lineID
	operators  map[int64]*model.Operator
	contacts   map[string]*model.Contact
	blocklist  map[string]model.BlocklistEntry
	repescagem map[pairKey]*model.RepescagemState
	history    []model.SendHistory
	outbound   map[int64]*model.OutboundMessage
	panels     map[int64]*model.ControlPanelConfig // key 0 is the global row
	instances  map[string]*model.GatewayInstance
	closed     bool
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity overrides the number of operators per line.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(c utils.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		capacity:   storage.DefaultLineCapacity,
		clock:      utils.SystemClock,
		segments:   make(map[string]*model.Segment),
		lines:      make(map[int64]*model.Line),
		bindings:   make(map[int64]int64),
		operators:  make(map[int64]*model.Operator),
		contacts:   make(map[string]*model.Contact),
		blocklist:  make(map[string]model.BlocklistEntry),
		repescagem: make(map[pairKey]*model.RepescagemState),
		outbound:   make(map[int64]*model.OutboundMessage),
		panels:     make(map[int64]*model.ControlPanelConfig),
		instances:  make(map[string]*model.GatewayInstance),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ storage.Store = (*Store)(nil)

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func panelKey(segmentID *int64) int64 {
	if segmentID == nil {
		return 0
	}
	return *segmentID
}

func (s *Store) occupants(lineID int64) []model.LineOccupant {
	var out []model.LineOccupant
	for opID, lID := range s.bindings {
		if lID != lineID {
			continue
		}
		occ := model.LineOccupant{OperatorID: opID}
		if op, ok := s.operators[opID]; ok && op.SegmentID != nil {
			seg := *op.SegmentID
			occ.SegmentID = &seg
		}
		out = append(out, occ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OperatorID < out[j].OperatorID })
	return out
}

func (s *Store) instanceUsable(name string) bool {
	if name == "" {
		return true
	}
	gi, ok := s.instances[name]
	// Lines pointing at an unknown instance stay usable, as with the SQL LEFT JOIN.
	return !ok || gi.Active
}

func (s *Store) withOperatorLine(op model.Operator) model.Operator {
	op.LineID = nil
	if lineID, ok := s.bindings[op.ID]; ok {
		lineID := lineID
		op.LineID = &lineID
	}
	return op
}

// --- LinePool ---

func (s *Store) GetAvailableLines(_ context.Context, segmentID *int64) ([]model.LineWithOccupancy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.LineWithOccupancy
	for _, l := range s.lines {
		if !l.IsActive() || !s.instanceUsable(l.GatewayName) {
			continue
		}
		if segmentID != nil && (l.SegmentID == nil || *l.SegmentID != *segmentID) {
			continue
		}
		out = append(out, model.LineWithOccupancy{Line: *l, Occupants: s.occupants(l.ID)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line.Phone < out[j].Line.Phone })
	return out, nil
}

func (s *Store) BindOperator(_ context.Context, lineID, operatorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, ok := s.lines[lineID]
	if !ok {
		return fmt.Errorf("%w: line %d", apperrors.ErrNotFound, lineID)
	}
	if !line.IsActive() {
		return fmt.Errorf("%w: line %d is %s", apperrors.ErrLineUnavailable, lineID, line.Status)
	}
	if _, bound := s.bindings[operatorID]; bound {
		return fmt.Errorf("%w: operator %d", apperrors.ErrAlreadyBound, operatorID)
	}
	if len(s.occupants(lineID)) >= s.capacity {
		return fmt.Errorf("%w: line %d", apperrors.ErrCapacityExceeded, lineID)
	}
	s.bindings[operatorID] = lineID
	return nil
}

func (s *Store) UnbindOperator(_ context.Context, lineID, operatorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.bindings[operatorID]; ok && current == lineID {
		delete(s.bindings, operatorID)
	}
	return nil
}

func (s *Store) MarkBanned(_ context.Context, lineID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, ok := s.lines[lineID]
	if !ok {
		return nil, fmt.Errorf("%w: line %d", apperrors.ErrNotFound, lineID)
	}
	var former []int64
	for _, occ := range s.occupants(lineID) {
		former = append(former, occ.OperatorID)
		delete(s.bindings, occ.OperatorID)
	}
	line.Status = model.LineBanned
	line.UpdatedAt = s.clock()
	return former, nil
}

func (s *Store) PromoteSegment(_ context.Context, lineID, segmentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, ok := s.lines[lineID]
	if !ok {
		return nil
	}
	if line.SegmentID == nil {
		seg := segmentID
		line.SegmentID = &seg
		line.UpdatedAt = s.clock()
	}
	return nil
}

func (s *Store) CurrentLine(_ context.Context, operatorID int64) (*model.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lineID, ok := s.bindings[operatorID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	line, ok := s.lines[lineID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *line
	return &cp, nil
}

func (s *Store) FindLineByID(_ context.Context, lineID int64) (*model.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, ok := s.lines[lineID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *line
	return &cp, nil
}

func (s *Store) FindLineByPhone(_ context.Context, phone string) (*model.Line, error) {
	digits := utils.NormalizePhone(phone)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if l.Phone == digits {
			cp := *l
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (s *Store) SaveLine(_ context.Context, line *model.Line) error {
	line.Phone = utils.NormalizePhone(line.Phone)
	if line.Status == "" {
		line.Status = model.LineActive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if l.Phone == line.Phone && l.ID != line.ID {
			line.ID = l.ID
			line.CreatedAt = l.CreatedAt
			break
		}
	}
	if line.ID == 0 {
		line.ID = s.id()
	} else if line.ID > s.nextID {
		s.nextID = line.ID
	}
	now := s.clock()
	if line.CreatedAt.IsZero() {
		line.CreatedAt = now
	}
	line.UpdatedAt = now
	cp := *line
	s.lines[line.ID] = &cp
	return nil
}

// --- SegmentRepo ---

func (s *Store) EnsureSegment(_ context.Context, name string) (*model.Segment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[name]
	if !ok {
		seg = &model.Segment{ID: s.id(), Name: name, CreatedAt: s.clock()}
		s.segments[name] = seg
	}
	cp := *seg
	return &cp, nil
}

// --- OperatorRepo ---

func (s *Store) FindOperatorByID(_ context.Context, id int64) (*model.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operators[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := s.withOperatorLine(*op)
	return &out, nil
}

func (s *Store) listOperators(keep func(*model.Operator) bool) []model.Operator {
	var out []model.Operator
	for _, op := range s.operators {
		if keep(op) {
			out = append(out, s.withOperatorLine(*op))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ListOnlineOperators(_ context.Context) ([]model.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listOperators(func(op *model.Operator) bool {
		return op.IsOnline() && op.Role == model.RoleOperator
	}), nil
}

func (s *Store) ListSupervisors(_ context.Context, segmentID int64) ([]model.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listOperators(func(op *model.Operator) bool {
		return op.Role == model.RoleSupervisor && op.SegmentID != nil && *op.SegmentID == segmentID
	}), nil
}

func (s *Store) ListLineOperators(_ context.Context, lineID int64) ([]model.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listOperators(func(op *model.Operator) bool {
		current, ok := s.bindings[op.ID]
		return ok && current == lineID
	}), nil
}

func (s *Store) SaveOperator(_ context.Context, op *model.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op.ID == 0 {
		op.ID = s.id()
	} else if op.ID > s.nextID {
		s.nextID = op.ID
	}
	now := s.clock()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now
	}
	op.UpdatedAt = now
	cp := *op
	cp.LineID = nil
	s.operators[op.ID] = &cp
	return nil
}

// --- ContactRepo ---

func (s *Store) FindContactByPhone(_ context.Context, phone string) (*model.Contact, error) {
	digits := utils.NormalizePhone(phone)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[digits]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) EnsureContact(_ context.Context, contact model.Contact) (*model.Contact, error) {
	contact.Phone = utils.NormalizePhone(contact.Phone)
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contacts[contact.Phone]; ok {
		cp := *c
		return &cp, nil
	}
	contact.ID = s.id()
	now := s.clock()
	contact.CreatedAt, contact.UpdatedAt = now, now
	stored := contact
	s.contacts[contact.Phone] = &stored
	return &contact, nil
}

func (s *Store) SetContactCPC(_ context.Context, phone string, isCPC bool, at time.Time) error {
	digits := utils.NormalizePhone(phone)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[digits]
	if !ok {
		return fmt.Errorf("%w: contact phone %s", apperrors.ErrNotFound, digits)
	}
	c.IsCPC = isCPC
	if isCPC {
		t := at
		c.LastCPCAt = &t
	}
	c.UpdatedAt = s.clock()
	return nil
}

// --- BlocklistRepo ---

func (s *Store) IsBlocklisted(_ context.Context, phone string) (bool, error) {
	digits := utils.NormalizePhone(phone)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocklist[digits]
	return ok, nil
}

func (s *Store) ListBlocklistedPhones(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.blocklist))
	for phone := range s.blocklist {
		out = append(out, phone)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) AddToBlocklist(_ context.Context, entry model.BlocklistEntry) error {
	entry.Phone = utils.NormalizePhone(entry.Phone)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocklist[entry.Phone]; ok {
		return nil
	}
	entry.ID = s.id()
	entry.CreatedAt = s.clock()
	s.blocklist[entry.Phone] = entry
	return nil
}

// --- RepescagemRepo ---

func (s *Store) FindRepescagem(_ context.Context, phone string, operatorID int64) (*model.RepescagemState, error) {
	key := pairKey{utils.NormalizePhone(phone), operatorID}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.repescagem[key]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *Store) MutateRepescagem(_ context.Context, phone string, operatorID int64, fn func(*model.RepescagemState) bool) (*model.RepescagemState, error) {
	key := pairKey{utils.NormalizePhone(phone), operatorID}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.repescagem[key]
	if !ok {
		now := s.clock()
		st = &model.RepescagemState{ID: s.id(), ContactPhone: key.phone, OperatorID: operatorID, CreatedAt: now, UpdatedAt: now}
		s.repescagem[key] = st
	}
	work := *st
	if fn(&work) {
		work.UpdatedAt = s.clock()
		*st = work
	}
	cp := *st
	return &cp, nil
}

func (s *Store) ResetRepescagemForContact(_ context.Context, phone string) (int64, error) {
	digits := utils.NormalizePhone(phone)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, st := range s.repescagem {
		if key.phone != digits {
			continue
		}
		st.MessagesCount = 0
		st.BlockedUntil = nil
		st.UpdatedAt = s.clock()
		n++
	}
	return n, nil
}

func (s *Store) ClearRepescagem(_ context.Context, phone string, operatorID int64) error {
	key := pairKey{utils.NormalizePhone(phone), operatorID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.repescagem[key]; ok {
		st.MessagesCount = 0
		st.Attempts = 0
		st.BlockedUntil = nil
		st.PermanentBlock = false
		st.UpdatedAt = s.clock()
	}
	return nil
}

// --- SendHistoryRepo ---

func (s *Store) SaveSendHistory(_ context.Context, entry model.SendHistory) error {
	entry.ContactPhone = utils.NormalizePhone(entry.ContactPhone)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = s.id()
	if entry.SentAt.IsZero() {
		entry.SentAt = s.clock()
	}
	s.history = append(s.history, entry)
	return nil
}

func (s *Store) LastSendAt(_ context.Context, phone string) (*time.Time, error) {
	digits := utils.NormalizePhone(phone)
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *time.Time
	for i := range s.history {
		h := s.history[i]
		if h.ContactPhone != digits {
			continue
		}
		if last == nil || h.SentAt.After(*last) {
			t := h.SentAt
			last = &t
		}
	}
	return last, nil
}

// --- OutboundRepo ---

func (s *Store) CountOutboundSince(_ context.Context, lineID int64, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.outbound {
		if m.LineID != lineID || m.CreatedAt.Before(since) {
			continue
		}
		if m.Status == model.OutboundPending || m.Status == model.OutboundSent {
			n++
		}
	}
	return n, nil
}

func (s *Store) SaveOutboundMessage(_ context.Context, msg *model.OutboundMessage) error {
	msg.ContactPhone = utils.NormalizePhone(msg.ContactPhone)
	if msg.Status == "" {
		msg.Status = model.OutboundPending
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = s.id()
	now := s.clock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	cp := *msg
	s.outbound[msg.ID] = &cp
	return nil
}

func (s *Store) UpdateOutboundStatus(_ context.Context, id int64, status model.OutboundStatus, attempts int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbound[id]
	if !ok {
		return fmt.Errorf("%w: outbound message %d", apperrors.ErrNotFound, id)
	}
	m.Status = status
	m.Attempts = attempts
	m.Error = errMsg
	m.UpdatedAt = s.clock()
	return nil
}

// --- ControlPanelRepo ---

func (s *Store) FindControlPanel(_ context.Context, segmentID *int64) (*model.ControlPanelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.panels[panelKey(segmentID)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (s *Store) UpsertControlPanel(_ context.Context, cfg model.ControlPanelConfig) (*model.ControlPanelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := panelKey(cfg.SegmentID)
	now := s.clock()
	if existing, ok := s.panels[key]; ok {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
	} else {
		cfg.ID = s.id()
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	stored := cfg
	s.panels[key] = &stored
	return &cfg, nil
}

// --- GatewayInstanceRepo ---

func (s *Store) FindGatewayInstance(_ context.Context, name string) (*model.GatewayInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gi, ok := s.instances[name]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *gi
	return &cp, nil
}

func (s *Store) SaveGatewayInstance(_ context.Context, gi *model.GatewayInstance) error {
	if strings.TrimSpace(gi.Name) == "" {
		return fmt.Errorf("%w: gateway instance name is required", apperrors.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	if existing, ok := s.instances[gi.Name]; ok {
		gi.ID = existing.ID
		gi.CreatedAt = existing.CreatedAt
	} else {
		gi.ID = s.id()
		gi.CreatedAt = now
	}
	gi.UpdatedAt = now
	cp := *gi
	s.instances[gi.Name] = &cp
	return nil
}

// Ping fails once the store is closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: store closed", apperrors.ErrDatabase)
	}
	return nil
}

func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

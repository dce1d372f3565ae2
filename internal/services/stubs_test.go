package services

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/payments"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/push"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/storage"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/tracking"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

var (
	errStubNotFound    = stubRepoError{notFound: true}
	errStubConflict    = stubRepoError{conflict: true}
	errStubUnavailable = stubRepoError{unavailable: true}
)

type stubCatalogRepo struct {
	modes       map[string]domain.ShippingMode
	carriers    map[string]domain.Carrier
	ports       map[string]domain.Port
	additional  map[string]domain.AdditionalSurcharge
	country     domain.Country
	currency    domain.Currency
	statuses    []domain.TrackStatus
	upsertSeeds []domain.CatalogSeed
}

func (s *stubCatalogRepo) ShippingMode(_ context.Context, id string) (domain.ShippingMode, error) {
	if mode, ok := s.modes[id]; ok {
		return mode, nil
	}
	return domain.ShippingMode{}, errStubNotFound
}

func (s *stubCatalogRepo) Carrier(_ context.Context, id string) (domain.Carrier, error) {
	if carrier, ok := s.carriers[id]; ok {
		return carrier, nil
	}
	return domain.Carrier{}, errStubNotFound
}

func (s *stubCatalogRepo) Port(_ context.Context, id string) (domain.Port, error) {
	if port, ok := s.ports[id]; ok {
		return port, nil
	}
	return domain.Port{}, errStubNotFound
}

func (s *stubCatalogRepo) AdditionalSurcharges(context.Context) (map[string]domain.AdditionalSurcharge, error) {
	return s.additional, nil
}

func (s *stubCatalogRepo) MainCountry(context.Context) (domain.Country, error) {
	if s.country.Code == "" {
		return domain.Country{}, errStubNotFound
	}
	return s.country, nil
}

func (s *stubCatalogRepo) MainCurrency(context.Context) (domain.Currency, error) {
	if s.currency.Code == "" {
		return domain.Currency{}, errStubNotFound
	}
	return s.currency, nil
}

func (s *stubCatalogRepo) TrackStatuses(_ context.Context, modeID string) ([]domain.TrackStatus, error) {
	var out []domain.TrackStatus
	for _, status := range s.statuses {
		if status.ShippingModeID == modeID {
			out = append(out, status)
		}
	}
	return out, nil
}

func (s *stubCatalogRepo) UpsertSeed(_ context.Context, seed domain.CatalogSeed) error {
	s.upsertSeeds = append(s.upsertSeeds, seed)
	return nil
}

type stubUserRepo struct {
	companies map[string]domain.Company
	users     map[string]domain.User
}

func (s *stubUserRepo) Company(_ context.Context, id string) (domain.Company, error) {
	if company, ok := s.companies[id]; ok {
		return company, nil
	}
	return domain.Company{}, errStubNotFound
}

func (s *stubUserRepo) Get(_ context.Context, id string) (domain.User, error) {
	if user, ok := s.users[id]; ok {
		return user, nil
	}
	return domain.User{}, errStubNotFound
}

func (s *stubUserRepo) GetMany(_ context.Context, ids []string) ([]domain.User, error) {
	var out []domain.User
	for _, id := range ids {
		if user, ok := s.users[id]; ok {
			out = append(out, user)
		}
	}
	return out, nil
}

func (s *stubUserRepo) ListByCompany(_ context.Context, companyID string, roles ...domain.Role) ([]domain.User, error) {
	var out []domain.User
	for _, id := range sortedMapKeys(s.users) {
		user := s.users[id]
		if user.CompanyID != companyID {
			continue
		}
		if len(roles) > 0 && !slices.ContainsFunc(roles, user.HasRole) {
			continue
		}
		out = append(out, user)
	}
	return out, nil
}

type stubExchangeRepo struct {
	platform []domain.ExchangeRate
	company  map[string][]domain.ExchangeRate
	err      error
}

func (s *stubExchangeRepo) PlatformRates(context.Context) ([]domain.ExchangeRate, error) {
	return s.platform, s.err
}

func (s *stubExchangeRepo) CompanyRates(_ context.Context, companyID string) ([]domain.ExchangeRate, error) {
	return s.company[companyID], s.err
}

type stubSettingsRepo struct {
	mu       sync.Mutex
	settings domain.PlatformSettings
	global   []domain.Fee
	local    map[string][]domain.Fee
	err      error
	calls    int
}

func (s *stubSettingsRepo) PlatformSettings(context.Context) (domain.PlatformSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.settings, s.err
}

func (s *stubSettingsRepo) GlobalFees(context.Context) ([]domain.Fee, error) {
	return s.global, s.err
}

func (s *stubSettingsRepo) LocalFees(_ context.Context, companyID string) ([]domain.Fee, error) {
	return s.local[companyID], s.err
}

// stubSettings is a fixed SettingsProvider.
type stubSettings struct {
	platform PlatformSettings
	fees     AppliedFees
	country  string
	currency string
}

func (s stubSettings) Platform(context.Context) (PlatformSettings, error) { return s.platform, nil }

func (s stubSettings) Fees(context.Context, string, string) (AppliedFees, error) { return s.fees, nil }

func (s stubSettings) MainCountryCode(context.Context) string {
	if s.country == "" {
		return domain.DefaultMainCountryCode
	}
	return s.country
}

func (s stubSettings) MainCurrency(context.Context) (string, error) {
	if s.currency == "" {
		return "BRL", nil
	}
	return s.currency, nil
}

func (stubSettings) Invalidate() {}

type stubExchangeBook struct {
	rates ExchangeRates
}

func (s stubExchangeBook) PlatformRates(context.Context) (ExchangeRates, error) { return s.rates, nil }

func (s stubExchangeBook) CompanyRates(context.Context, string) (ExchangeRates, error) {
	return s.rates, nil
}

type stubSurchargeRepo struct {
	items     map[string]domain.Surcharge
	created   []domain.Surcharge
	listFn    func(key repositories.SurchargeKey) ([]domain.Surcharge, error)
	expiring  []domain.Surcharge
	getManyFn func(ids []string) ([]domain.Surcharge, error)
	// rates, when set, receives the relinks a copy performs.
	rates     *stubFreightRateRepo
}

func (s *stubSurchargeRepo) Get(_ context.Context, id string) (domain.Surcharge, error) {
	if item, ok := s.items[id]; ok {
		return item, nil
	}
	return domain.Surcharge{}, errStubNotFound
}

func (s *stubSurchargeRepo) GetMany(_ context.Context, ids []string) ([]domain.Surcharge, error) {
	if s.getManyFn != nil {
		return s.getManyFn(ids)
	}
	var out []domain.Surcharge
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *stubSurchargeRepo) ListByKey(_ context.Context, key repositories.SurchargeKey) ([]domain.Surcharge, error) {
	if s.listFn != nil {
		return s.listFn(key)
	}
	return nil, nil
}

func (s *stubSurchargeRepo) Create(_ context.Context, surcharge domain.Surcharge) error {
	s.created = append(s.created, surcharge)
	return nil
}

func (s *stubSurchargeRepo) Copy(_ context.Context, id string, build func(domain.Surcharge) (domain.Surcharge, error)) (domain.Surcharge, []string, error) {
	original, ok := s.items[id]
	if !ok {
		return domain.Surcharge{}, nil, errStubNotFound
	}
	created, err := build(original)
	if err != nil {
		return domain.Surcharge{}, nil, err
	}
	original.Archived = true
	original.UsageFees, original.Charges = nil, nil
	s.items[id] = original
	s.items[created.ID] = created

	var relinked []string
	if s.rates != nil {
		for rateID, rate := range s.rates.items {
			if rate.RelinkSurcharge(id, created.ID) {
				s.rates.items[rateID] = rate
				relinked = append(relinked, rateID)
			}
		}
		slices.Sort(relinked)
	}
	return created, relinked, nil
}

func (s *stubSurchargeRepo) ListExpiring(context.Context, time.Time, time.Time) ([]domain.Surcharge, error) {
	return s.expiring, nil
}

type stubFreightRateRepo struct {
	items    map[string]domain.FreightRate
	created  []domain.FreightRate
	routeFn  func(key repositories.RouteKey) ([]domain.FreightRate, error)
	searchFn func(query repositories.FreightRateQuery) ([]domain.FreightRate, error)
	expiring []domain.FreightRate
}

func (s *stubFreightRateRepo) Get(_ context.Context, id string) (domain.FreightRate, error) {
	if item, ok := s.items[id]; ok {
		return item, nil
	}
	return domain.FreightRate{}, errStubNotFound
}

func (s *stubFreightRateRepo) Create(_ context.Context, rate domain.FreightRate) error {
	s.created = append(s.created, rate)
	return nil
}

func (s *stubFreightRateRepo) ListByRoute(_ context.Context, key repositories.RouteKey) ([]domain.FreightRate, error) {
	if s.routeFn != nil {
		return s.routeFn(key)
	}
	return nil, nil
}

func (s *stubFreightRateRepo) Search(_ context.Context, query repositories.FreightRateQuery) ([]domain.FreightRate, error) {
	if s.searchFn != nil {
		return s.searchFn(query)
	}
	return nil, nil
}

func (s *stubFreightRateRepo) Copy(_ context.Context, id string, build func(domain.FreightRate) (domain.FreightRate, error)) (domain.FreightRate, error) {
	original, ok := s.items[id]
	if !ok {
		return domain.FreightRate{}, errStubNotFound
	}
	if original.Archived {
		return domain.FreightRate{}, errStubConflict
	}
	return build(original)
}

func (s *stubFreightRateRepo) ListExpiring(context.Context, time.Time, time.Time) ([]domain.FreightRate, error) {
	return s.expiring, nil
}

// memoryBookingRepo keeps bookings in memory and applies mutations serially.
type memoryBookingRepo struct {
	mu            sync.Mutex
	bookings      map[string]domain.Booking
	aceids        map[string]string
	notifications []domain.Notification
	reassignErr   error
	createFn      func(domain.Booking) error
	listFn        func(repositories.BookingFilter) ([]domain.Booking, error)
}

func newMemoryBookingRepo(bookings ...domain.Booking) *memoryBookingRepo {
	repo := &memoryBookingRepo{bookings: map[string]domain.Booking{}, aceids: map[string]string{}}
	for _, b := range bookings {
		repo.bookings[b.ID] = b
		repo.aceids[b.Aceid] = b.ID
	}
	return repo
}

func (r *memoryBookingRepo) Create(_ context.Context, booking domain.Booking) error {
	if r.createFn != nil {
		if err := r.createFn(booking); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.aceids[booking.Aceid]; taken {
		return errStubConflict
	}
	r.aceids[booking.Aceid] = booking.ID
	r.bookings[booking.ID] = booking
	return nil
}

func (r *memoryBookingRepo) Get(_ context.Context, id string) (domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bookings[id]; ok {
		return b, nil
	}
	return domain.Booking{}, errStubNotFound
}

func (r *memoryBookingRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return errStubNotFound
	}
	if b.OriginalBookingID == "" {
		delete(r.aceids, b.Aceid)
	}
	delete(r.bookings, id)
	return nil
}

func (r *memoryBookingRepo) Mutate(_ context.Context, id string, mutate repositories.BookingMutation) (domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return domain.Booking{}, errStubNotFound
	}
	if err := mutate(&b); err != nil {
		return domain.Booking{}, err
	}
	r.bookings[id] = b
	return b, nil
}

func (r *memoryBookingRepo) CreateChangeRequest(_ context.Context, child domain.Booking, mutate repositories.BookingMutation) (domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	parent, ok := r.bookings[child.OriginalBookingID]
	if !ok {
		return domain.Booking{}, errStubNotFound
	}
	if err := mutate(&parent); err != nil {
		return domain.Booking{}, err
	}
	r.bookings[parent.ID] = parent
	r.bookings[child.ID] = child
	return child, nil
}

// ConfirmChangeRequest stores nothing when mutate or the notification move fails.
func (r *memoryBookingRepo) ConfirmChangeRequest(_ context.Context, parentID, childID string, sections []domain.NotificationSection, mutate repositories.BookingMutation) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	parent, ok := r.bookings[parentID]
	if !ok {
		return nil, errStubNotFound
	}
	if err := mutate(&parent); err != nil {
		return nil, err
	}
	if r.reassignErr != nil {
		return nil, r.reassignErr
	}
	notes := slices.Clone(r.notifications)
	var changed []domain.Notification
	for i, n := range notes {
		if n.ObjectID == parentID && slices.Contains(sections, n.Section) {
			notes[i].ObjectID = childID
			changed = append(changed, notes[i])
		}
	}
	r.notifications = notes
	r.bookings[parentID] = parent
	return changed, nil
}

func (r *memoryBookingRepo) List(_ context.Context, filter repositories.BookingFilter) ([]domain.Booking, error) {
	if r.listFn != nil {
		return r.listFn(filter)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Booking
	for _, id := range sortedMapKeys(r.bookings) {
		b := r.bookings[id]
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, b.Status) {
			continue
		}
		if filter.Direction != "" && b.Direction != filter.Direction {
			continue
		}
		if filter.ShippingType != "" && b.ShippingType != filter.ShippingType {
			continue
		}
		if filter.IsPaid != nil && b.IsPaid != *filter.IsPaid {
			continue
		}
		if filter.AutomaticTracking != nil && b.AutomaticTracking != *filter.AutomaticTracking {
			continue
		}
		if filter.VesselArrived != nil && b.VesselArrived != *filter.VesselArrived {
			continue
		}
		if filter.OnlyOriginals && b.OriginalBookingID != "" {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !b.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		if !filter.AcceptedBefore.IsZero() && (b.DateAcceptedByAgent == nil || !b.DateAcceptedByAgent.Before(filter.AcceptedBefore)) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *memoryBookingRepo) booking(id string) domain.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bookings[id]
}

type memoryTrackRepo struct {
	mu     sync.Mutex
	tracks []domain.Track
}

func (r *memoryTrackRepo) Create(_ context.Context, track domain.Track) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = append(r.tracks, track)
	return nil
}

func (r *memoryTrackRepo) UpsertAutomatic(_ context.Context, track domain.Track) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.tracks {
		if existing.BookingID == track.BookingID && !existing.Manual {
			r.tracks[i] = track
			return nil
		}
	}
	r.tracks = append(r.tracks, track)
	return nil
}

func (r *memoryTrackRepo) ListByBooking(_ context.Context, bookingID string) ([]domain.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Track
	for _, track := range r.tracks {
		if track.BookingID == bookingID {
			out = append(out, track)
		}
	}
	return out, nil
}

type memoryNotificationRepo struct {
	mu            sync.Mutex
	notifications []domain.Notification
	seen          map[string]time.Time
}

func newMemoryNotificationRepo() *memoryNotificationRepo {
	return &memoryNotificationRepo{seen: map[string]time.Time{}}
}

func (r *memoryNotificationRepo) Insert(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *memoryNotificationRepo) ListForUser(_ context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.Notification], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Notification
	for i := len(r.notifications) - 1; i >= 0; i-- {
		n := r.notifications[i]
		for _, recipient := range n.RecipientIDs {
			if recipient == userID {
				items = append(items, n)
				break
			}
		}
	}
	if page.PageSize > 0 && len(items) > page.PageSize {
		items = items[:page.PageSize]
	}
	return domain.CursorPage[domain.Notification]{Items: items}, nil
}

func (r *memoryNotificationRepo) SeenBy(_ context.Context, userID string, ids []string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.seen[id+"_"+userID]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (r *memoryNotificationRepo) MarkSeen(_ context.Context, userID string, ids []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.seen[id+"_"+userID] = at
	}
	return nil
}

func (r *memoryNotificationRepo) ReassignObject(_ context.Context, fromID, toID string, sections []domain.NotificationSection) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed []domain.Notification
	for i, n := range r.notifications {
		if n.ObjectID != fromID {
			continue
		}
		matched := false
		for _, section := range sections {
			if n.Section == section {
				matched = true
			}
		}
		if !matched {
			continue
		}
		n.ObjectID = toID
		r.notifications[i] = n
		changed = append(changed, n)
	}
	return changed, nil
}

func (r *memoryNotificationRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.notifications[:0]
	deleted := 0
	for _, n := range r.notifications {
		if n.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, n)
	}
	r.notifications = kept
	return deleted, nil
}

type memoryTransactionRepo struct {
	mu    sync.Mutex
	items map[string]domain.Transaction
}

func newMemoryTransactionRepo() *memoryTransactionRepo {
	return &memoryTransactionRepo{items: map[string]domain.Transaction{}}
}

func (r *memoryTransactionRepo) Create(_ context.Context, tx domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[tx.ID]; exists {
		return errStubConflict
	}
	r.items[tx.ID] = tx
	return nil
}

func (r *memoryTransactionRepo) Get(_ context.Context, id string) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tx, ok := r.items[id]; ok {
		return tx, nil
	}
	return domain.Transaction{}, errStubNotFound
}

func (r *memoryTransactionRepo) Update(_ context.Context, tx domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[tx.ID]; !ok {
		return errStubNotFound
	}
	r.items[tx.ID] = tx
	return nil
}

func (r *memoryTransactionRepo) FindOpenByBooking(_ context.Context, bookingID string) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range sortedMapKeys(r.items) {
		tx := r.items[id]
		if tx.BookingID == bookingID && tx.Status == domain.TransactionOpened {
			return tx, nil
		}
	}
	return domain.Transaction{}, errStubNotFound
}

type stubQuoteRepo struct {
	quotes    map[string]domain.Quote
	offers    []domain.QuoteOffer
	archiveFn func(createdBefore, dateToBefore time.Time) (int, error)
}

func (s *stubQuoteRepo) Get(_ context.Context, id string) (domain.Quote, error) {
	if q, ok := s.quotes[id]; ok {
		return q, nil
	}
	return domain.Quote{}, errStubNotFound
}

func (s *stubQuoteRepo) AddOffer(_ context.Context, offer domain.QuoteOffer, maxOffers int) error {
	count := 0
	for _, existing := range s.offers {
		if existing.QuoteID == offer.QuoteID {
			count++
		}
	}
	if count >= maxOffers {
		return errStubConflict
	}
	s.offers = append(s.offers, offer)
	return nil
}

func (s *stubQuoteRepo) ArchiveStale(_ context.Context, createdBefore, dateToBefore time.Time) (int, error) {
	if s.archiveFn != nil {
		return s.archiveFn(createdBefore, dateToBefore)
	}
	return 0, nil
}

type recordingPublisher struct {
	mu            sync.Mutex
	notifications []NotificationMessage
	emails        []EmailMessage
	chats         []ChatCreatedMessage
	waybills      []AirWaybillTask
	err           error
}

func (p *recordingPublisher) PublishNotification(_ context.Context, m NotificationMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, m)
	return p.err
}

func (p *recordingPublisher) PublishEmail(_ context.Context, m EmailMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emails = append(p.emails, m)
	return p.err
}

func (p *recordingPublisher) PublishChatCreated(_ context.Context, m ChatCreatedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chats = append(p.chats, m)
	return p.err
}

func (p *recordingPublisher) PublishAirWaybillTask(_ context.Context, task AirWaybillTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waybills = append(p.waybills, task)
	return p.err
}

type recordingPush struct {
	calls [][]string
}

func (p *recordingPush) Send(_ context.Context, tokens []string, _, _ string, _ map[string]string) (push.Result, error) {
	p.calls = append(p.calls, tokens)
	return push.Result{Sent: len(tokens)}, nil
}

// echoRenderer renders "key|param=value" pairs so tests can assert on substitutions.
type echoRenderer struct{}

func (echoRenderer) Render(preference, key string, params map[string]string) string {
	text := key
	for _, name := range sortedMapKeys(params) {
		text += "|" + name + "=" + params[name]
	}
	if preference != "" {
		text = preference + ":" + text
	}
	return text
}

type recordingNotifier struct {
	mu       sync.Mutex
	commands []NotifyCommand
	reassign [][2]string
	refetch  []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, cmd NotifyCommand) (Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.commands = append(n.commands, cmd)
	return Notification{ID: "ntf_stub", Section: cmd.Section, ObjectID: cmd.ObjectID}, nil
}

func (n *recordingNotifier) ListForUser(context.Context, string, Pagination) (domain.CursorPage[NotificationView], error) {
	return domain.CursorPage[NotificationView]{}, nil
}

func (n *recordingNotifier) MarkSeen(context.Context, string, []string) error { return nil }

func (n *recordingNotifier) ReassignObject(_ context.Context, fromID, toID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reassign = append(n.reassign, [2]string{fromID, toID})
	return nil
}

func (n *recordingNotifier) RequestRefetch(_ context.Context, notifications []Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refetch = append(n.refetch, notifications...)
}

func (n *recordingNotifier) PruneOlderThan(context.Context, time.Duration) (int, error) { return 0, nil }

func (n *recordingNotifier) keys() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.commands))
	for _, cmd := range n.commands {
		out = append(out, cmd.TemplateKey)
	}
	return out
}

type stubGateway struct {
	createFn func(req payments.ChargeRequest) (payments.Charge, error)
	reviewFn func(req payments.ReviewRequest) (payments.Review, error)
	requests []payments.ChargeRequest
}

func (g *stubGateway) CreateCharge(_ context.Context, _ string, req payments.ChargeRequest) (payments.Charge, error) {
	g.requests = append(g.requests, req)
	if g.createFn != nil {
		return g.createFn(req)
	}
	return payments.Charge{Provider: "pix", Reference: req.TxID, QRCode: "qr-" + req.TxID}, nil
}

func (g *stubGateway) Review(_ context.Context, _ string, req payments.ReviewRequest) (payments.Review, error) {
	if g.reviewFn != nil {
		return g.reviewFn(req)
	}
	return payments.Review{Status: payments.StatusPending}, nil
}

type memoryQueue struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
}

func newMemoryQueue() *memoryQueue { return &memoryQueue{scheduled: map[string]time.Time{}} }

func (q *memoryQueue) Schedule(_ context.Context, member string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.scheduled[member] = at
	return nil
}

func (q *memoryQueue) Due(_ context.Context, now time.Time, limit int64) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, member := range sortedMapKeys(q.scheduled) {
		if !q.scheduled[member].After(now) {
			out = append(out, member)
		}
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (q *memoryQueue) Claim(_ context.Context, member string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.scheduled[member]; !ok {
		return false, nil
	}
	delete(q.scheduled, member)
	return true, nil
}

type stubSeaTracker struct {
	responses    map[string]tracking.SeaResponse
	routes       map[string]tracking.SeaResponse
	errs         map[string]error
	routeErrs    map[string]error
	queries      []tracking.SeaQuery
	routeQueries []tracking.SeaQuery
}

// Route answers from routes, falling back to the reference payload.
func (s *stubSeaTracker) Route(_ context.Context, query tracking.SeaQuery) (tracking.SeaResponse, error) {
	s.routeQueries = append(s.routeQueries, query)
	if err := s.routeErrs[query.Number]; err != nil {
		return tracking.SeaResponse{}, err
	}
	if resp, ok := s.routes[query.Number]; ok {
		return resp, nil
	}
	return s.responses[query.Number], nil
}

func (s *stubSeaTracker) Reference(_ context.Context, query tracking.SeaQuery) (tracking.SeaResponse, error) {
	s.queries = append(s.queries, query)
	if err := s.errs[query.Number]; err != nil {
		return tracking.SeaResponse{}, err
	}
	return s.responses[query.Number], nil
}

type stubAirTracker struct {
	response tracking.AirResponse
	err      error
	waybills []string
}

func (s *stubAirTracker) Register(_ context.Context, waybill string) (tracking.AirResponse, error) {
	s.waybills = append(s.waybills, waybill)
	return s.response, s.err
}

type memoryArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (a *memoryArchive) Store(_ context.Context, bookingID string, kind storage.PayloadKind, payload []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	path, err := storage.TrackingObjectPath(bookingID, kind, time.Unix(int64(len(a.objects)), 0))
	if err != nil {
		return "", err
	}
	a.objects[path] = payload
	return path, nil
}

type stubLocker struct {
	held     map[string]bool
	released []string
}

func (l *stubLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func(context.Context) error {
		delete(l.held, key)
		l.released = append(l.released, key)
		return nil
	}, true, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequenceIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + string(rune('a'+n-1))
	}
}

func sortedMapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

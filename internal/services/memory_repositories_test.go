package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/repositories"
)

type repoErr struct {
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoErr) Error() string       { return e.err.Error() }
func (e *repoErr) Unwrap() error       { return e.err }
func (e *repoErr) IsNotFound() bool    { return e.notFound }
func (e *repoErr) IsConflict() bool    { return e.conflict }
func (e *repoErr) IsUnavailable() bool { return e.unavailable }

func notFoundErr(what string) error {
	return &repoErr{err: errors.New(what + " not found"), notFound: true}
}

func conflictErr(what string) error {
	return &repoErr{err: errors.New(what + " already exists"), conflict: true}
}

func unavailableErr() error {
	return &repoErr{err: errors.New("firestore unavailable"), unavailable: true}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

type memoryUserRepo struct {
	mu    sync.Mutex
	store map[string]domain.User
}

func newMemoryUserRepo(users ...domain.User) *memoryUserRepo {
	repo := &memoryUserRepo{store: make(map[string]domain.User)}
	for _, u := range users {
		repo.store[u.ID] = u
	}
	return repo
}

func (r *memoryUserRepo) emailTaken(email, exceptID string) bool {
	for id, u := range r.store {
		if id != exceptID && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

func (r *memoryUserRepo) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[user.ID]; ok || r.emailTaken(user.Email, "") {
		return conflictErr("user")
	}
	r.store[user.ID] = user
	return nil
}

func (r *memoryUserRepo) Update(_ context.Context, user domain.User, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[user.ID]; !ok {
		return notFoundErr("user")
	}
	if r.emailTaken(user.Email, user.ID) {
		return conflictErr("email")
	}
	r.store[user.ID] = user
	return nil
}

func (r *memoryUserRepo) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[userID]; !ok {
		return notFoundErr("user")
	}
	delete(r.store, userID)
	return nil
}

func (r *memoryUserRepo) FindByID(_ context.Context, userID string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.store[userID]
	if !ok {
		return domain.User{}, notFoundErr("user")
	}
	return user, nil
}

func (r *memoryUserRepo) FindByEmail(_ context.Context, email string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.store {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return domain.User{}, notFoundErr("user")
}

func (r *memoryUserRepo) List(_ context.Context, pager domain.Pagination) (domain.CursorPage[domain.User], error) {
	r.mu.Lock()
	users := make([]domain.User, 0, len(r.store))
	for _, u := range r.store {
		users = append(users, u)
	}
	r.mu.Unlock()
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return pagination.Slice(users, pager)
}

type memoryProductRepo struct {
	mu        sync.Mutex
	store     map[string]domain.Product
	searchErr error
}

func newMemoryProductRepo(products ...domain.Product) *memoryProductRepo {
	repo := &memoryProductRepo{store: make(map[string]domain.Product)}
	for _, p := range products {
		repo.store[p.ID] = p
	}
	return repo
}

func (r *memoryProductRepo) Insert(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[product.ID]; ok {
		return conflictErr("product")
	}
	r.store[product.ID] = product
	return nil
}

func (r *memoryProductRepo) Update(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[product.ID]; !ok {
		return notFoundErr("product")
	}
	r.store[product.ID] = product
	return nil
}

func (r *memoryProductRepo) Delete(_ context.Context, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[productID]; !ok {
		return notFoundErr("product")
	}
	delete(r.store, productID)
	return nil
}

func (r *memoryProductRepo) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.store[productID]
	if !ok {
		return domain.Product{}, notFoundErr("product")
	}
	return product, nil
}

func (r *memoryProductRepo) Search(_ context.Context, filter repositories.ProductFilter) ([]domain.Product, error) {
	if r.searchErr != nil {
		return nil, r.searchErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	eq := func(want, got string) bool { return want == "" || strings.EqualFold(want, got) }
	out := make([]domain.Product, 0, len(r.store))
	for _, p := range r.store {
		if filter.PublishedOnly && !p.IsPublished {
			continue
		}
		if filter.CreatedBy != "" && p.CreatedBy != filter.CreatedBy {
			continue
		}
		if eq(filter.Category, p.Category) && eq(filter.Gender, p.Gender) && eq(filter.Brand, p.Brand) && eq(filter.Material, p.Material) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryProductRepo) OwnedIDs(_ context.Context, ownerID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, p := range r.store {
		if p.CreatedBy == ownerID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memoryProductRepo) IncrementSales(_ context.Context, productID string, quantity int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.store[productID]
	if !ok {
		return notFoundErr("product")
	}
	p.SalesCount += quantity
	r.store[productID] = p
	return nil
}

type memoryCartRepo struct {
	mu      sync.Mutex
	store   map[string]domain.Cart
	deleted []string
}

func newMemoryCartRepo(carts ...domain.Cart) *memoryCartRepo {
	repo := &memoryCartRepo{store: make(map[string]domain.Cart)}
	for _, c := range carts {
		repo.store[c.ID] = c
	}
	return repo
}

func (r *memoryCartRepo) Get(_ context.Context, cartID string) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.store[cartID]
	if !ok {
		return domain.Cart{}, notFoundErr("cart")
	}
	cart.Items = append([]domain.CartItem(nil), cart.Items...)
	return cart, nil
}

func (r *memoryCartRepo) Save(_ context.Context, cart domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart.Items = append([]domain.CartItem(nil), cart.Items...)
	r.store[cart.ID] = cart
	return nil
}

func (r *memoryCartRepo) Delete(_ context.Context, cartID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, cartID)
	if _, ok := r.store[cartID]; !ok {
		return notFoundErr("cart")
	}
	delete(r.store, cartID)
	return nil
}

func (r *memoryCartRepo) has(cartID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.store[cartID]
	return ok
}

type memoryOrderRepo struct {
	mu    sync.Mutex
	store map[string]domain.Order
}

func newMemoryOrderRepo(orders ...domain.Order) *memoryOrderRepo {
	repo := &memoryOrderRepo{store: make(map[string]domain.Order)}
	for _, o := range orders {
		repo.store[o.ID] = o
	}
	return repo
}

func (r *memoryOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[order.ID]; ok {
		return conflictErr("order")
	}
	r.store[order.ID] = order
	return nil
}

func (r *memoryOrderRepo) Update(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[order.ID]; !ok {
		return notFoundErr("order")
	}
	r.store[order.ID] = order
	return nil
}

func (r *memoryOrderRepo) Delete(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[orderID]; !ok {
		return notFoundErr("order")
	}
	delete(r.store, orderID)
	return nil
}

func (r *memoryOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.store[orderID]
	if !ok {
		return domain.Order{}, notFoundErr("order")
	}
	return order, nil
}

func (r *memoryOrderRepo) all() []domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Order, 0, len(r.store))
	for _, o := range r.store {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r *memoryOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	owned := toSet(filter.Scope.ProductIDs)
	var out []domain.Order
	for _, o := range r.all() {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if filter.Scope.Enabled && !o.ContainsAnyProduct(owned) {
			continue
		}
		out = append(out, o)
	}
	return pagination.Slice(out, filter.Pagination)
}

func (r *memoryOrderRepo) ListPaidSince(_ context.Context, since time.Time, scope repositories.ProductScope) ([]domain.Order, error) {
	owned := toSet(scope.ProductIDs)
	var out []domain.Order
	for _, o := range r.all() {
		if !o.IsPaid || o.PaidAt == nil || o.PaidAt.Before(since) {
			continue
		}
		if scope.Enabled && !o.ContainsAnyProduct(owned) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

type memoryCheckoutRepo struct {
	mu     sync.Mutex
	store  map[string]domain.CheckoutSession
	orders *memoryOrderRepo
}

func newMemoryCheckoutRepo(orders *memoryOrderRepo) *memoryCheckoutRepo {
	return &memoryCheckoutRepo{store: make(map[string]domain.CheckoutSession), orders: orders}
}

func (r *memoryCheckoutRepo) Insert(_ context.Context, session domain.CheckoutSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[session.ID] = session
	return nil
}

func (r *memoryCheckoutRepo) Update(_ context.Context, session domain.CheckoutSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[session.ID]; !ok {
		return notFoundErr("checkout")
	}
	r.store[session.ID] = session
	return nil
}

func (r *memoryCheckoutRepo) FindByID(_ context.Context, checkoutID string) (domain.CheckoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.store[checkoutID]
	if !ok {
		return domain.CheckoutSession{}, notFoundErr("checkout")
	}
	return session, nil
}

func (r *memoryCheckoutRepo) Finalize(ctx context.Context, checkoutID string, fn repositories.FinalizeFunc) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.store[checkoutID]
	if !ok {
		return domain.Order{}, notFoundErr("checkout")
	}
	next, order, err := fn(session)
	if err != nil {
		return domain.Order{}, err
	}
	if err := r.orders.Insert(ctx, order); err != nil {
		return domain.Order{}, err
	}
	r.store[checkoutID] = next
	return order, nil
}

type memoryTaxonRepo struct {
	mu    sync.Mutex
	store map[string]domain.Taxon
}

func newMemoryTaxonRepo() *memoryTaxonRepo {
	return &memoryTaxonRepo{store: make(map[string]domain.Taxon)}
}

func (r *memoryTaxonRepo) nameTaken(name, exceptID string) bool {
	for id, t := range r.store {
		if id != exceptID && strings.EqualFold(t.Name, name) {
			return true
		}
	}
	return false
}

func (r *memoryTaxonRepo) Create(_ context.Context, taxon domain.Taxon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nameTaken(taxon.Name, "") {
		return conflictErr("name")
	}
	r.store[taxon.ID] = taxon
	return nil
}

func (r *memoryTaxonRepo) Update(_ context.Context, taxon domain.Taxon, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[taxon.ID]; !ok {
		return notFoundErr("taxon")
	}
	if r.nameTaken(taxon.Name, taxon.ID) {
		return conflictErr("name")
	}
	r.store[taxon.ID] = taxon
	return nil
}

func (r *memoryTaxonRepo) Delete(_ context.Context, taxonID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[taxonID]; !ok {
		return notFoundErr("taxon")
	}
	delete(r.store, taxonID)
	return nil
}

func (r *memoryTaxonRepo) FindByID(_ context.Context, taxonID string) (domain.Taxon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	taxon, ok := r.store[taxonID]
	if !ok {
		return domain.Taxon{}, notFoundErr("taxon")
	}
	return taxon, nil
}

func (r *memoryTaxonRepo) List(_ context.Context) ([]domain.Taxon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Taxon, 0, len(r.store))
	for _, t := range r.store {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return "msg-" + event.OrderID, nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

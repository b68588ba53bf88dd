package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/storage"
	"github.com/storefront/api/internal/services"
)

var errStubNotImplemented = errors.New("stub: not implemented")

var (
	testShopper = domain.User{ID: "usr_shopper", Email: "shopper@example.com", Role: domain.RoleUser}
	testAdmin   = domain.User{ID: "usr_admin", Email: "admin@example.com", Role: domain.RoleAdmin}
	testSuper   = domain.User{ID: "usr_super", Email: "super@example.com", Role: domain.RoleSuperAdmin}
)

type testAuth struct {
	authn  *auth.Authenticator
	tokens *auth.TokenManager
}

func newTestAuth(t *testing.T) testAuth {
	t.Helper()
	tokens, err := auth.NewTokenManager("handler-test-secret")
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	return testAuth{authn: auth.NewAuthenticator(tokens), tokens: tokens}
}

func (a testAuth) bearer(t *testing.T, user domain.User) string {
	t.Helper()
	issued, err := a.tokens.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return "Bearer " + issued.Token
}

// serve mounts routes on a fresh router and dispatches req.
func serve(routes RouteRegistrar, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	routes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody[map[string]any](t, rr)
	code, _ := body["error"].(string)
	return code
}

var fixedTime = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type stubUserService struct {
	registerFn      func(context.Context, services.RegisterCommand) (services.AuthResult, error)
	loginFn         func(context.Context, services.LoginCommand) (services.AuthResult, error)
	getProfileFn    func(context.Context, services.Principal) (services.User, error)
	updateProfileFn func(context.Context, services.Principal, services.UpdateProfileCommand) (services.User, error)
	listUsersFn     func(context.Context, services.Principal, services.Pagination) (domain.CursorPage[services.User], error)
	createUserFn    func(context.Context, services.Principal, services.CreateUserCommand) (services.User, error)
	updateUserFn    func(context.Context, services.Principal, services.UpdateUserCommand) (services.User, error)
	deleteUserFn    func(context.Context, services.Principal, string) error
	assignRoleFn    func(context.Context, string, domain.Role) (services.User, error)
}

func (s *stubUserService) Register(ctx context.Context, cmd services.RegisterCommand) (services.AuthResult, error) {
	if s.registerFn == nil {
		return services.AuthResult{}, errStubNotImplemented
	}
	return s.registerFn(ctx, cmd)
}

func (s *stubUserService) Login(ctx context.Context, cmd services.LoginCommand) (services.AuthResult, error) {
	if s.loginFn == nil {
		return services.AuthResult{}, errStubNotImplemented
	}
	return s.loginFn(ctx, cmd)
}

func (s *stubUserService) GetProfile(ctx context.Context, caller services.Principal) (services.User, error) {
	if s.getProfileFn == nil {
		return services.User{}, errStubNotImplemented
	}
	return s.getProfileFn(ctx, caller)
}

func (s *stubUserService) UpdateProfile(ctx context.Context, caller services.Principal, cmd services.UpdateProfileCommand) (services.User, error) {
	if s.updateProfileFn == nil {
		return services.User{}, errStubNotImplemented
	}
	return s.updateProfileFn(ctx, caller, cmd)
}

func (s *stubUserService) FindUser(context.Context, string) (services.User, error) {
	return services.User{}, errStubNotImplemented
}

func (s *stubUserService) ListUsers(ctx context.Context, caller services.Principal, pager services.Pagination) (domain.CursorPage[services.User], error) {
	if s.listUsersFn == nil {
		return domain.CursorPage[services.User]{}, errStubNotImplemented
	}
	return s.listUsersFn(ctx, caller, pager)
}

func (s *stubUserService) CreateUser(ctx context.Context, caller services.Principal, cmd services.CreateUserCommand) (services.User, error) {
	if s.createUserFn == nil {
		return services.User{}, errStubNotImplemented
	}
	return s.createUserFn(ctx, caller, cmd)
}

func (s *stubUserService) UpdateUser(ctx context.Context, caller services.Principal, cmd services.UpdateUserCommand) (services.User, error) {
	if s.updateUserFn == nil {
		return services.User{}, errStubNotImplemented
	}
	return s.updateUserFn(ctx, caller, cmd)
}

func (s *stubUserService) DeleteUser(ctx context.Context, caller services.Principal, userID string) error {
	if s.deleteUserFn == nil {
		return errStubNotImplemented
	}
	return s.deleteUserFn(ctx, caller, userID)
}

func (s *stubUserService) AssignRole(ctx context.Context, userID string, role domain.Role) (services.User, error) {
	if s.assignRoleFn == nil {
		return services.User{}, errStubNotImplemented
	}
	return s.assignRoleFn(ctx, userID, role)
}

type stubCatalogService struct {
	listFn      func(context.Context, services.Principal, services.ProductListCommand) (domain.CursorPage[services.Product], error)
	listAdminFn func(context.Context, services.Principal, services.ProductListCommand) (domain.CursorPage[services.Product], error)
	getFn       func(context.Context, services.Principal, string) (services.Product, error)
	createFn    func(context.Context, services.Principal, services.ProductInput) (services.Product, error)
	updateFn    func(context.Context, services.Principal, string, services.ProductPatch) (services.Product, error)
	deleteFn    func(context.Context, services.Principal, string) error
	similarFn   func(context.Context, string, int) ([]services.Product, error)
	featuredFn  func(context.Context, string, services.FeaturedQuery) ([]services.Product, error)
}

func (s *stubCatalogService) ListProducts(ctx context.Context, caller services.Principal, cmd services.ProductListCommand) (domain.CursorPage[services.Product], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.Product]{}, errStubNotImplemented
	}
	return s.listFn(ctx, caller, cmd)
}

func (s *stubCatalogService) ListAdminProducts(ctx context.Context, caller services.Principal, cmd services.ProductListCommand) (domain.CursorPage[services.Product], error) {
	if s.listAdminFn == nil {
		return domain.CursorPage[services.Product]{}, errStubNotImplemented
	}
	return s.listAdminFn(ctx, caller, cmd)
}

func (s *stubCatalogService) GetProduct(ctx context.Context, caller services.Principal, id string) (services.Product, error) {
	if s.getFn == nil {
		return services.Product{}, errStubNotImplemented
	}
	return s.getFn(ctx, caller, id)
}

func (s *stubCatalogService) CreateProduct(ctx context.Context, caller services.Principal, cmd services.ProductInput) (services.Product, error) {
	if s.createFn == nil {
		return services.Product{}, errStubNotImplemented
	}
	return s.createFn(ctx, caller, cmd)
}

func (s *stubCatalogService) UpdateProduct(ctx context.Context, caller services.Principal, id string, cmd services.ProductPatch) (services.Product, error) {
	if s.updateFn == nil {
		return services.Product{}, errStubNotImplemented
	}
	return s.updateFn(ctx, caller, id, cmd)
}

func (s *stubCatalogService) DeleteProduct(ctx context.Context, caller services.Principal, id string) error {
	if s.deleteFn == nil {
		return errStubNotImplemented
	}
	return s.deleteFn(ctx, caller, id)
}

func (s *stubCatalogService) SimilarProducts(ctx context.Context, id string, limit int) ([]services.Product, error) {
	if s.similarFn == nil {
		return nil, errStubNotImplemented
	}
	return s.similarFn(ctx, id, limit)
}

func (s *stubCatalogService) featured(ctx context.Context, shelf string, cmd services.FeaturedQuery) ([]services.Product, error) {
	if s.featuredFn == nil {
		return nil, errStubNotImplemented
	}
	return s.featuredFn(ctx, shelf, cmd)
}

func (s *stubCatalogService) RecommendedProducts(ctx context.Context, cmd services.FeaturedQuery) ([]services.Product, error) {
	return s.featured(ctx, "recommended", cmd)
}

func (s *stubCatalogService) BestSellers(ctx context.Context, cmd services.FeaturedQuery) ([]services.Product, error) {
	return s.featured(ctx, "best-seller", cmd)
}

func (s *stubCatalogService) NewArrivals(ctx context.Context, cmd services.FeaturedQuery) ([]services.Product, error) {
	return s.featured(ctx, "new-arrivals", cmd)
}

type stubCartService struct {
	getFn    func(context.Context, services.CartOwner) (services.Cart, error)
	addFn    func(context.Context, services.AddCartItemCommand) (services.Cart, error)
	updateFn func(context.Context, services.UpdateCartItemCommand) (services.Cart, error)
	removeFn func(context.Context, services.RemoveCartItemCommand) (services.Cart, error)
	mergeFn  func(context.Context, string, string) (services.Cart, error)
}

func (s *stubCartService) GetCart(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
	if s.getFn == nil {
		return services.Cart{}, errStubNotImplemented
	}
	return s.getFn(ctx, owner)
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	if s.addFn == nil {
		return services.Cart{}, errStubNotImplemented
	}
	return s.addFn(ctx, cmd)
}

func (s *stubCartService) UpdateItem(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
	if s.updateFn == nil {
		return services.Cart{}, errStubNotImplemented
	}
	return s.updateFn(ctx, cmd)
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	if s.removeFn == nil {
		return services.Cart{}, errStubNotImplemented
	}
	return s.removeFn(ctx, cmd)
}

func (s *stubCartService) MergeGuestCart(ctx context.Context, userID, guestID string) (services.Cart, error) {
	if s.mergeFn == nil {
		return services.Cart{}, errStubNotImplemented
	}
	return s.mergeFn(ctx, userID, guestID)
}

type stubCheckoutService struct {
	createFn         func(context.Context, services.Principal, services.CreateCheckoutCommand) (services.CheckoutSession, error)
	getFn            func(context.Context, services.Principal, string) (services.CheckoutSession, error)
	markPaidFn       func(context.Context, services.Principal, services.MarkCheckoutPaidCommand) (services.CheckoutSession, error)
	finalizeFn       func(context.Context, services.Principal, string) (services.Order, error)
	paymentSessionFn func(context.Context, services.Principal, string) (payments.CheckoutSession, error)
	webhookFn        func(context.Context, []byte, string) error
}

func (s *stubCheckoutService) CreateSession(ctx context.Context, caller services.Principal, cmd services.CreateCheckoutCommand) (services.CheckoutSession, error) {
	if s.createFn == nil {
		return services.CheckoutSession{}, errStubNotImplemented
	}
	return s.createFn(ctx, caller, cmd)
}

func (s *stubCheckoutService) GetSession(ctx context.Context, caller services.Principal, id string) (services.CheckoutSession, error) {
	if s.getFn == nil {
		return services.CheckoutSession{}, errStubNotImplemented
	}
	return s.getFn(ctx, caller, id)
}

func (s *stubCheckoutService) MarkPaid(ctx context.Context, caller services.Principal, cmd services.MarkCheckoutPaidCommand) (services.CheckoutSession, error) {
	if s.markPaidFn == nil {
		return services.CheckoutSession{}, errStubNotImplemented
	}
	return s.markPaidFn(ctx, caller, cmd)
}

func (s *stubCheckoutService) Finalize(ctx context.Context, caller services.Principal, id string) (services.Order, error) {
	if s.finalizeFn == nil {
		return services.Order{}, errStubNotImplemented
	}
	return s.finalizeFn(ctx, caller, id)
}

func (s *stubCheckoutService) CreatePaymentSession(ctx context.Context, caller services.Principal, id string) (payments.CheckoutSession, error) {
	if s.paymentSessionFn == nil {
		return payments.CheckoutSession{}, errStubNotImplemented
	}
	return s.paymentSessionFn(ctx, caller, id)
}

func (s *stubCheckoutService) HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.webhookFn == nil {
		return errStubNotImplemented
	}
	return s.webhookFn(ctx, payload, signature)
}

type stubOrderService struct {
	createFn        func(context.Context, services.Principal, services.CreateOrderCommand) (services.Order, error)
	listMineFn      func(context.Context, services.Principal, services.Pagination) (domain.CursorPage[services.Order], error)
	listFn          func(context.Context, services.Principal, services.Pagination) (domain.CursorPage[services.Order], error)
	getFn           func(context.Context, services.Principal, string) (services.Order, error)
	markPaidFn      func(context.Context, services.Principal, services.MarkOrderPaidCommand) (services.Order, error)
	markDeliveredFn func(context.Context, services.Principal, string) (services.Order, error)
	updateStatusFn  func(context.Context, services.Principal, string, string) (services.Order, error)
	deleteFn        func(context.Context, services.Principal, string) error
	revenueFn       func(context.Context, services.Principal, bool) ([]services.MonthlyRevenue, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, caller services.Principal, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn == nil {
		return services.Order{}, errStubNotImplemented
	}
	return s.createFn(ctx, caller, cmd)
}

func (s *stubOrderService) ListMyOrders(ctx context.Context, caller services.Principal, pager services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listMineFn == nil {
		return domain.CursorPage[services.Order]{}, errStubNotImplemented
	}
	return s.listMineFn(ctx, caller, pager)
}

func (s *stubOrderService) ListOrders(ctx context.Context, caller services.Principal, pager services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.Order]{}, errStubNotImplemented
	}
	return s.listFn(ctx, caller, pager)
}

func (s *stubOrderService) GetOrder(ctx context.Context, caller services.Principal, id string) (services.Order, error) {
	if s.getFn == nil {
		return services.Order{}, errStubNotImplemented
	}
	return s.getFn(ctx, caller, id)
}

func (s *stubOrderService) MarkPaid(ctx context.Context, caller services.Principal, cmd services.MarkOrderPaidCommand) (services.Order, error) {
	if s.markPaidFn == nil {
		return services.Order{}, errStubNotImplemented
	}
	return s.markPaidFn(ctx, caller, cmd)
}

func (s *stubOrderService) MarkDelivered(ctx context.Context, caller services.Principal, id string) (services.Order, error) {
	if s.markDeliveredFn == nil {
		return services.Order{}, errStubNotImplemented
	}
	return s.markDeliveredFn(ctx, caller, id)
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, caller services.Principal, id, status string) (services.Order, error) {
	if s.updateStatusFn == nil {
		return services.Order{}, errStubNotImplemented
	}
	return s.updateStatusFn(ctx, caller, id, status)
}

func (s *stubOrderService) DeleteOrder(ctx context.Context, caller services.Principal, id string) error {
	if s.deleteFn == nil {
		return errStubNotImplemented
	}
	return s.deleteFn(ctx, caller, id)
}

func (s *stubOrderService) AdminRevenue(ctx context.Context, caller services.Principal) ([]services.MonthlyRevenue, error) {
	if s.revenueFn == nil {
		return nil, errStubNotImplemented
	}
	return s.revenueFn(ctx, caller, false)
}

func (s *stubOrderService) SuperAdminRevenue(ctx context.Context, caller services.Principal) ([]services.MonthlyRevenue, error) {
	if s.revenueFn == nil {
		return nil, errStubNotImplemented
	}
	return s.revenueFn(ctx, caller, true)
}

type stubTaxonomyService struct {
	listFn   func(context.Context) ([]services.Taxon, error)
	getFn    func(context.Context, string) (services.Taxon, error)
	createFn func(context.Context, services.Principal, string) (services.Taxon, error)
	updateFn func(context.Context, services.Principal, string, string) (services.Taxon, error)
	deleteFn func(context.Context, services.Principal, string) error
}

func (s *stubTaxonomyService) List(ctx context.Context) ([]services.Taxon, error) {
	if s.listFn == nil {
		return nil, errStubNotImplemented
	}
	return s.listFn(ctx)
}

func (s *stubTaxonomyService) Get(ctx context.Context, id string) (services.Taxon, error) {
	if s.getFn == nil {
		return services.Taxon{}, errStubNotImplemented
	}
	return s.getFn(ctx, id)
}

func (s *stubTaxonomyService) Create(ctx context.Context, caller services.Principal, name string) (services.Taxon, error) {
	if s.createFn == nil {
		return services.Taxon{}, errStubNotImplemented
	}
	return s.createFn(ctx, caller, name)
}

func (s *stubTaxonomyService) Update(ctx context.Context, caller services.Principal, id, name string) (services.Taxon, error) {
	if s.updateFn == nil {
		return services.Taxon{}, errStubNotImplemented
	}
	return s.updateFn(ctx, caller, id, name)
}

func (s *stubTaxonomyService) Delete(ctx context.Context, caller services.Principal, id string) error {
	if s.deleteFn == nil {
		return errStubNotImplemented
	}
	return s.deleteFn(ctx, caller, id)
}

type stubUploadService struct {
	uploadFn func(context.Context, services.Principal, []storage.File) ([]string, error)
}

func (s *stubUploadService) UploadImages(ctx context.Context, caller services.Principal, files []storage.File) ([]string, error) {
	if s.uploadFn == nil {
		return nil, errStubNotImplemented
	}
	return s.uploadFn(ctx, caller, files)
}

var (
	_ services.UserService     = (*stubUserService)(nil)
	_ services.CatalogService  = (*stubCatalogService)(nil)
	_ services.CartService     = (*stubCartService)(nil)
	_ services.CheckoutService = (*stubCheckoutService)(nil)
	_ services.OrderService    = (*stubOrderService)(nil)
	_ services.TaxonomyService = (*stubTaxonomyService)(nil)
	_ services.UploadService   = (*stubUploadService)(nil)
)

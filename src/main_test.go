package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"esm/src/config"
	esmdb "esm/src/db"
	"esm/src/lib/khalti"
	"esm/src/models"
	"esm/src/payments"
	"esm/src/types"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

const secret = "secret"

// khaltiStub answers the two ePayment endpoints used by the service.
type khaltiStub struct {
	mu          sync.Mutex
	seq         int
	status      string
	initiateErr int
	lookups     int
}

func (k *khaltiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	k.mu.Lock()
	defer k.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/epayment/initiate/":
		if k.initiateErr != 0 {
			w.WriteHeader(k.initiateErr)
			io.WriteString(w, `{"detail":"Invalid token.","status_code":401}`)
			return
		}
		k.seq++
		pidx := fmt.Sprintf("HT6o6PEZRWFJ5ygavzH%03d", k.seq)
		fmt.Fprintf(w, `{"pidx":%q,"payment_url":"https://test-pay.khalti.com/?pidx=%s","expires_at":"2026-10-17T12:30:00+05:45","expires_in":1800}`, pidx, pidx)
	case "/epayment/lookup/":
		k.lookups++
		body, _ := io.ReadAll(r.Body)
		pidx := gjson.GetBytes(body, "pidx").String()
		fmt.Fprintf(w, `{"pidx":%q,"total_amount":50000,"status":%q,"transaction_id":"GFq9PFS7b2iYvL8Lir9oXe","fee":0,"refunded":false}`, pidx, k.status)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (k *khaltiStub) setStatus(status string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.status = status
}

func (k *khaltiStub) lookupCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lookups
}

type TestSuite struct {
	suite.Suite
	DB       *gorm.DB
	Khalti   *khaltiStub
	server   *httptest.Server
	cfg      *config.Config
	router   *gin.Engine
	client   models.User
	provider models.User
	admin    models.User
}

func TestRunner(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(TestSuite))
}

func (s *TestSuite) SetupTest() {
	d, err := esmdb.OpenMemory(uuid.NewString())
	s.Require().NoError(err)
	s.Require().NoError(models.Migrate(d))
	s.DB = d

	s.client = models.User{Name: "Sita Sharma", Email: "sita@example.com", Role: types.ROLE_CLIENT}
	s.provider = models.User{Name: "Grand Hall", Email: "hall@example.com", Role: types.ROLE_VENUE}
	s.admin = models.User{Name: "Ops", Email: "ops@example.com", Role: types.ROLE_ADMIN}
	for _, u := range []*models.User{&s.client, &s.provider, &s.admin} {
		s.Require().NoError(d.Create(u).Error)
	}

	s.Khalti = &khaltiStub{status: "Pending"}
	s.server = httptest.NewServer(s.Khalti)
	s.cfg = &config.Config{
		APIEnv:    "local",
		JWTSecret: secret,
		Khalti: config.KhaltiConfig{
			BaseURL:        s.server.URL + "/",
			SecretKey:      "test_secret_key",
			ReturnURL:      "http://localhost:3000/payment/verify",
			FrontendOrigin: "http://localhost:3000",
			Timeout:        5 * time.Second,
		},
	}
	s.router = s.newRouter()
}

func (s *TestSuite) TearDownTest() {
	s.server.Close()
	inner, err := s.DB.DB()
	s.Require().NoError(err)
	inner.Close()
}

func (s *TestSuite) newRouter() *gin.Engine {
	svc := payments.NewService(s.DB, khalti.NewClient(s.cfg.Khalti), s.cfg.Khalti)
	return newRouter(s.cfg, s.DB, svc)
}

func (s *TestSuite) token(u models.User) string {
	claims := types.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(u.ID), 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	s.Require().NoError(err)
	return signed
}

func (s *TestSuite) do(method, url string, as *models.User, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		s.Require().NoError(err)
		reader = strings.NewReader(string(raw))
	}
	req, err := http.NewRequest(method, url, reader)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+s.token(*as))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *TestSuite) booking(status types.BookingStatus) models.Booking {
	b := models.Booking{
		ClientID:          s.client.ID,
		ServiceProviderID: s.provider.ID,
		ServiceType:       "venue",
		PackageName:       "Reception",
		TotalAmount:       decimal.RequireFromString("500"),
		Status:            status,
		PaymentStatus:     types.PAYMENT_PENDING,
	}
	s.Require().NoError(s.DB.Create(&b).Error)
	return b
}

func (s *TestSuite) snapshot(bookingID uuid.UUID) string {
	var b models.Booking
	s.Require().NoError(s.DB.First(&b, "id = ?", bookingID).Error)
	var ts []models.Transaction
	s.Require().NoError(s.DB.Table(models.PaymentTransactionTable).Where("booking_id = ?", bookingID).Find(&ts).Error)
	raw, err := json.Marshal(map[string]any{"booking": b, "transactions": ts})
	s.Require().NoError(err)
	return string(raw)
}

func (s *TestSuite) TestPingRoute() {
	w := s.do("GET", "/", nil, nil)
	assert.Equal(s.T(), 200, w.Code)
	assert.Equal(s.T(), "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func (s *TestSuite) TestMaintenanceMode() {
	s.cfg.MaintenanceMode = true
	s.router = s.newRouter()

	w := s.do("GET", "/api/v1/payments/history", &s.client, nil)
	assert.Equal(s.T(), 503, w.Code)
}

func (s *TestSuite) TestMetricsRoute() {
	w := s.do("GET", "/metrics", nil, nil)
	assert.Equal(s.T(), 200, w.Code)
	assert.Contains(s.T(), w.Body.String(), "go_goroutines")
}

func (s *TestSuite) TestRequiresAuthentication() {
	b := s.booking(types.BOOKING_CONFIRMED_AWAITING_PAYMENT)
	w := s.do("POST", "/api/v1/bookings/"+b.ID.String()+"/init-khalti", nil, nil)
	assert.Equal(s.T(), 401, w.Code)
}

func (s *TestSuite) TestEndToEndPayment() {
	b := s.booking(types.BOOKING_CONFIRMED_AWAITING_PAYMENT)

	w := s.do("POST", "/api/v1/bookings/"+b.ID.String()+"/init-khalti", &s.client, nil)
	s.Require().Equal(200, w.Code, w.Body.String())
	res := w.Body.String()
	s.True(gjson.Get(res, "success").Bool())
	pidx := gjson.Get(res, "pidx").String()
	s.NotEmpty(pidx)
	s.Contains(gjson.Get(res, "paymentUrl").String(), pidx)
	s.NotEmpty(gjson.Get(res, "transactionId").String())

	var txn models.Transaction
	s.Require().NoError(s.DB.Table(models.PaymentTransactionTable).Where("gateway_transaction_id = ?", pidx).First(&txn).Error)
	s.Equal(types.TRANSACTION_PENDING, txn.Status)

	s.Khalti.setStatus(khalti.StatusCompleted)
	w = s.do("POST", "/api/v1/payments/verify", &s.client, map[string]string{"pidx": pidx})
	s.Require().Equal(200, w.Code)
	s.True(gjson.Get(w.Body.String(), "success").Bool(), w.Body.String())

	var paid models.Booking
	s.Require().NoError(s.DB.First(&paid, "id = ?", b.ID).Error)
	s.Equal(types.PAYMENT_PAID, paid.PaymentStatus)
	s.Equal(types.BOOKING_CONFIRMED_PAID, paid.Status)

	before := s.snapshot(b.ID)
	lookups := s.Khalti.lookupCount()
	w = s.do("POST", "/api/v1/payments/verify", &s.client, map[string]string{"pidx": pidx})
	s.Require().Equal(200, w.Code)
	s.True(gjson.Get(w.Body.String(), "success").Bool())
	s.Equal(payments.StatusAlreadyVerified, gjson.Get(w.Body.String(), "status").String())
	s.Equal(before, s.snapshot(b.ID))
	s.Equal(lookups, s.Khalti.lookupCount())

	w = s.do("GET", "/api/v1/bookings/"+b.ID.String()+"/payment-status", &s.client, nil)
	s.Require().Equal(200, w.Code)
	s.Equal(string(types.PAYMENT_PAID), gjson.Get(w.Body.String(), "data.paymentStatus").String(), w.Body.String())
}

func (s *TestSuite) TestVerifyAlwaysAnswersOK() {
	for _, body := range []any{"not json", map[string]string{}, map[string]string{"pidx": "unknownPidx00001"}} {
		w := s.do("POST", "/api/v1/payments/verify", &s.client, body)
		s.Equal(200, w.Code)
		s.False(gjson.Get(w.Body.String(), "success").Bool())
		s.Equal(payments.StatusTransactionNotFound, gjson.Get(w.Body.String(), "status").String())
	}
}

func (s *TestSuite) TestInitiateErrors() {
	s.Run("Should reject an unconfirmed booking", func() {
		b := s.booking(types.BOOKING_PENDING_PROVIDER_CONFIRMATION)
		w := s.do("POST", "/api/v1/bookings/"+b.ID.String()+"/init-khalti", &s.client, nil)
		s.Equal(400, w.Code)
		s.Equal(payments.StatusBookingNotConfirmed, gjson.Get(w.Body.String(), "status").String())
		s.False(gjson.Get(w.Body.String(), "success").Bool())
	})

	s.Run("Should return 404 for another client's booking", func() {
		b := s.booking(types.BOOKING_CONFIRMED_AWAITING_PAYMENT)
		w := s.do("POST", "/api/v1/bookings/"+b.ID.String()+"/init-khalti", &s.provider, nil)
		s.Equal(404, w.Code)
		s.Equal(payments.StatusBookingNotFound, gjson.Get(w.Body.String(), "status").String())
	})

	s.Run("Should reject a malformed booking id", func() {
		w := s.do("POST", "/api/v1/bookings/42/init-khalti", &s.client, nil)
		s.Equal(400, w.Code)
	})

	s.Run("Should surface gateway failures as 502", func() {
		s.Khalti.initiateErr = http.StatusUnauthorized
		defer func() { s.Khalti.initiateErr = 0 }()
		b := s.booking(types.BOOKING_CONFIRMED_AWAITING_PAYMENT)
		w := s.do("POST", "/api/v1/bookings/"+b.ID.String()+"/init-khalti", &s.client, nil)
		s.Equal(502, w.Code)
		s.Equal(payments.StatusKhaltiInitFailed, gjson.Get(w.Body.String(), "status").String())
		s.Equal(int64(401), gjson.Get(w.Body.String(), "upstreamStatus").Int())
	})
}

func (s *TestSuite) TestUpdatePaymentStatus() {
	b := s.booking(types.BOOKING_CONFIRMED_AWAITING_PAYMENT)
	w := s.do("POST", "/api/v1/bookings/"+b.ID.String()+"/init-khalti", &s.client, nil)
	s.Require().Equal(200, w.Code)
	url := "/api/v1/bookings/" + b.ID.String() + "/payment-status"

	w = s.do("PATCH", url, &s.client, map[string]string{"status": "completed"})
	s.Equal(403, w.Code)

	w = s.do("PATCH", url, &s.admin, map[string]string{"status": "refunded"})
	s.Equal(400, w.Code)

	w = s.do("PATCH", url, &s.admin, map[string]string{"status": "completed", "pidx": "bad pidx"})
	s.Equal(400, w.Code)
	s.Equal("VALIDATION_ERROR", gjson.Get(w.Body.String(), "status").String())

	w = s.do("PATCH", url, &s.admin, map[string]string{"status": "completed", "pidx": "ManualPidx0001"})
	s.Require().Equal(200, w.Code, w.Body.String())
	s.True(gjson.Get(w.Body.String(), "success").Bool())

	w = s.do("PATCH", url, &s.admin, map[string]string{"status": "failed"})
	s.Equal(409, w.Code)
	s.Equal(payments.StatusPaymentAlreadyCompleted, gjson.Get(w.Body.String(), "status").String())
}

func (s *TestSuite) TestPaymentHistory() {
	s.booking(types.BOOKING_CONFIRMED_AWAITING_PAYMENT)
	s.booking(types.BOOKING_CONFIRMED_AWAITING_PAYMENT)

	w := s.do("GET", "/api/v1/payments/history", &s.client, nil)
	s.Require().Equal(200, w.Code, w.Body.String())
	s.Equal(int64(2), gjson.Get(w.Body.String(), "count").Int())

	w = s.do("GET", "/api/v1/payments/history", &s.provider, nil)
	s.Require().Equal(200, w.Code)
	s.Equal(int64(2), gjson.Get(w.Body.String(), "count").Int())

	query := fmt.Sprintf("/api/v1/payments/history?owner_id=%d&role=client", s.client.ID)
	w = s.do("GET", query, &s.client, nil)
	s.Equal(403, w.Code)

	w = s.do("GET", query, &s.admin, nil)
	s.Require().Equal(200, w.Code)
	s.Equal(int64(2), gjson.Get(w.Body.String(), "count").Int())

	w = s.do("GET", "/api/v1/payments/history", &s.admin, nil)
	s.Equal(400, w.Code)
	s.Equal(payments.StatusInvalidRole, gjson.Get(w.Body.String(), "status").String())
}

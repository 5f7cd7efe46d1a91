package tests

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	. "github.com/mitihani/backend/apps/api/echo"
	"github.com/mitihani/backend/core"
	"github.com/mitihani/backend/core/attempt"
	"github.com/mitihani/backend/core/exam"
	"github.com/mitihani/backend/core/proctor"
	"github.com/mitihani/backend/core/risk"
	"github.com/mitihani/backend/core/session"
	"github.com/mitihani/backend/core/student"
	"github.com/mitihani/backend/core/violation"
	logsvc "github.com/mitihani/backend/services/logger"
	notifysvc "github.com/mitihani/backend/services/notifier"
	dummydb "github.com/mitihani/backend/storage/database/dummy"
	testutil "github.com/mitihani/backend/tests"
)

var (
	db  *dummydb.DB
	app Server

	stdRepo  student.Repository
	attRepo  attempt.Repository
	vioRepo  violation.Repository
	sessRepo session.Repository

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

func newTestConfig() *core.Config {
	return &core.Config{
		TestMode:  true,
		Env:       "TEST",
		AppName:   "Mitihani",
		SecretKey: "test-secret-key",
		Server: core.ServerConfig{
			JWTExpirationDelta: time.Hour,
		},
		Proctor: core.ProctorConfig{
			ActiveSessionTTL: 30 * time.Second,
			MinRequestGap:    0, // tests fire requests back to back
			AttendanceStep:   30 * time.Second,
			NotifyQueueSize:  64,
		},
	}
}

func TestMain(m *testing.M) {
	conf := newTestConfig()

	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "TEST : ", log.LstdFlags), conf)
	logger.Enable(false)

	// in-memory repos with SQL-layer atomicity semantics
	db = dummydb.NewDB()
	stdRepo = dummydb.NewStudentRepository(db)
	attRepo = dummydb.NewAttemptRepository(db)
	vioRepo = dummydb.NewViolationRepository(db)
	sessRepo = dummydb.NewSessionRepository(db)
	examRepo := dummydb.NewExamRepository(db)
	riskRepo := dummydb.NewRiskRepository(db)

	dispatcher := notifysvc.NewDispatcher(notifysvc.NewConsoleTransport(), logger, conf.Proctor.NotifyQueueSize)
	defer dispatcher.Close()

	studentSvc := student.NewService(stdRepo)
	examSvc := exam.NewService(examRepo)
	attemptSvc := attempt.NewService(attRepo)
	riskSvc := risk.NewService(riskRepo, riskRepo, 0)

	ledger := violation.NewLedger(vioRepo, dispatcher, logger)
	guard := session.NewGuard(sessRepo, conf.Proctor.ActiveSessionTTL)
	clock := session.NewClockGuard(conf.Proctor.MinRequestGap)
	enforcer := attempt.NewEnforcer(attemptSvc, studentSvc, dispatcher, logger)
	pipeline := proctor.New(guard, clock, ledger, enforcer, studentSvc, attemptSvc, examSvc, dispatcher)

	validate := validator.New()
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	core.InitValidators(validate, translator)
	student.InitValidators(validate, translator)

	app = NewServer(ServerDeps{
		Conf:       conf,
		Logger:     logger,
		StudentSvc: studentSvc,
		ExamSvc:    examSvc,
		AttemptSvc: attemptSvc,
		RiskSvc:    riskSvc,
		Ledger:     ledger,
		Proctor:    pipeline,
		Validate:   validate,
		Translator: translator,
	})

	os.Exit(m.Run())
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

// getToken logs the student in as one browser session; call it twice to
// simulate two concurrent devices.
func getToken(t *testing.T, std student.Student) string {
	t.Helper()
	claims := GetStudentClaims(std)
	token, err := GenerateToken(claims)
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	return false, nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data mismatch:\n%s", testutil.Diff(string(tt.wantData), rec.Body.String()))
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

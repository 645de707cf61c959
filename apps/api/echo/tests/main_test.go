package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/darasa/apps/api/echo"
	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/student"
	"github.com/trezcool/darasa/services/email"
	"github.com/trezcool/darasa/services/notify"
	"github.com/trezcool/darasa/storage/database/inmem"
	"github.com/trezcool/darasa/tests"
)

var (
	conf    *core.Config
	stdRepo student.Repository
	sender  *notifysvc.ConsoleSender

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
)

func setup(t *testing.T) *Server {
	conf = testutil.NewConfig()
	conf.Debug = false // errors are rendered as in production
	logger := testutil.NewLogger(conf)

	// set up DB & repos
	db := inmemdb.Open()
	stdRepo = inmemdb.NewStudentRepository(db)

	// set up services
	sender = notifysvc.NewConsoleSenderMock()
	attSvc := attendance.NewServiceMock(attendance.ServiceDeps{
		Conf:     conf,
		Logger:   logger,
		Clock:    testutil.ClockAt(2024, 3, 2, 16, 5),
		Records:  inmemdb.NewRecordRepository(db),
		Students: stdRepo,
		Notifier: notifysvc.NewGateway(conf, sender, inmemdb.NewNotificationRepository(db), logger),
		MailSvc:  emailsvc.NewConsoleServiceMock(conf, logger),
	})

	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)

	// set up server
	return NewServer(ServerDeps{
		Conf:          conf,
		Logger:        logger,
		StudentSvc:    student.NewService(stdRepo, conf, logger),
		AttendanceSvc: attSvc,
		Validate:      validate,
		Translator:    translator,
	})
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

func getToken(t *testing.T, roles ...string) string {
	claims := NewStaffClaims(conf, "staff-1", "Hoda", roles...)
	token, err := GenerateToken(conf, claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarchall(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("unmarchall() failed: %v; body %s", err, rec.Body.String())
	}
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
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
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

// checkCodeAndData skips the body check when tt.wantData is nil.
func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

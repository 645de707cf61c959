package core

// Logger is implemented by the app loggers.
// args may hold errors, map[string]interface{} extras and a Staff identity.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Staff identifies the authenticated center staff member behind a request.
type Staff struct {
	ID    string
	Name  string
	Roles []string
}

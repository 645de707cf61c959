package attendance

// NewServiceMock returns a Service running its side effects synchronously.
func NewServiceMock(deps ServiceDeps) *Service {
	svc := newService(deps)
	svc.dispatch = func(fn func()) {
		// run synchronously
		fn()
	}
	return svc
}

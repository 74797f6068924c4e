package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/mender/api/schemas"
)

// -- Classifier Mock --

// MockClassifier mocks the schemas.Classifier interface.
type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Classify(ctx context.Context, document string, obs *schemas.PageObservations) (schemas.ErrorReport, error) {
	args := m.Called(ctx, document, obs)
	return args.Get(0).(schemas.ErrorReport), args.Error(1)
}

func (m *MockClassifier) ClassifyStatic(ctx context.Context, document string) (schemas.ErrorReport, error) {
	args := m.Called(ctx, document)
	return args.Get(0).(schemas.ErrorReport), args.Error(1)
}

// -- Rule Engine / Injector Mocks --

// MockRuleEngine mocks the schemas.RuleEngine interface.
type MockRuleEngine struct {
	mock.Mock
}

func (m *MockRuleEngine) ApplyRules(errs []schemas.ClassifiedError) schemas.PatchSet {
	return m.Called(errs).Get(0).(schemas.PatchSet)
}

// MockInjector mocks the schemas.Injector interface.
type MockInjector struct {
	mock.Mock
}

func (m *MockInjector) Inject(document string, set schemas.PatchSet) schemas.InjectionResult {
	return m.Called(document, set).Get(0).(schemas.InjectionResult)
}

// -- Sandbox Mocks --

// MockSandboxValidator mocks the schemas.SandboxValidator interface.
type MockSandboxValidator struct {
	mock.Mock
}

func (m *MockSandboxValidator) Validate(ctx context.Context, document string) (schemas.ValidationResult, error) {
	args := m.Called(ctx, document)
	return args.Get(0).(schemas.ValidationResult), args.Error(1)
}

// MockPageProbe mocks the schemas.PageProbe interface.
type MockPageProbe struct {
	mock.Mock
}

func (m *MockPageProbe) Probe(ctx context.Context, document string) (schemas.PageObservations, error) {
	args := m.Called(ctx, document)
	return args.Get(0).(schemas.PageObservations), args.Error(1)
}

// -- Generative Repair Mocks --

// MockGenerativeFixer mocks the schemas.GenerativeFixer interface.
type MockGenerativeFixer struct {
	mock.Mock
}

func (m *MockGenerativeFixer) Fix(ctx context.Context, errs []schemas.ClassifiedError, document string, screenshots [][]byte) (schemas.LLMFixResult, error) {
	args := m.Called(ctx, errs, document, screenshots)
	return args.Get(0).(schemas.LLMFixResult), args.Error(1)
}

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate honours cancellation before consulting expectations.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.GenerationResponse), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

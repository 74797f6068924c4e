package mocks

import (
	"github.com/xkilldash9x/mender/api/schemas"
)

// Compile-time interface checks.
var (
	_ schemas.Classifier       = (*MockClassifier)(nil)
	_ schemas.RuleEngine       = (*MockRuleEngine)(nil)
	_ schemas.Injector         = (*MockInjector)(nil)
	_ schemas.SandboxValidator = (*MockSandboxValidator)(nil)
	_ schemas.PageProbe        = (*MockPageProbe)(nil)
	_ schemas.GenerativeFixer  = (*MockGenerativeFixer)(nil)
	_ schemas.LLMClient        = (*MockLLMClient)(nil)
)

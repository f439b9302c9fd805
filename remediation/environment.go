package remediation

// Environment names a resolved account environment
type Environment string

const (
	EnvDev        Environment = "dev"
	EnvStaging    Environment = "staging"
	EnvProd       Environment = "prod"
	EnvGovernance Environment = "governance"
	EnvTooling    Environment = "tooling"
	EnvUnknown    Environment = "unknown"
)

// EnvironmentResolver maps account IDs to named environments via a static
// table loaded at process start
type EnvironmentResolver struct {
	accounts      map[string]Environment
	prodAccountID string
}

// NewEnvironmentResolver builds a resolver from an account→environment map
// and an explicit production account identifier
func NewEnvironmentResolver(accounts map[string]string, prodAccountID string) *EnvironmentResolver {
	resolved := make(map[string]Environment, len(accounts))
	for id, env := range accounts {
		resolved[id] = normalizeEnvironment(env)
	}
	return &EnvironmentResolver{
		accounts:      resolved,
		prodAccountID: prodAccountID,
	}
}

// Resolve returns the environment for an account; unmapped accounts
// resolve to unknown
func (r *EnvironmentResolver) Resolve(accountID string) Environment {
	if accountID == r.prodAccountID && r.prodAccountID != "" {
		return EnvProd
	}
	if env, ok := r.accounts[accountID]; ok {
		return env
	}
	return EnvUnknown
}

// IsProduction reports whether an account is production, either by the
// explicit production identifier or by the environment map
func (r *EnvironmentResolver) IsProduction(accountID string) bool {
	return r.Resolve(accountID) == EnvProd
}

func normalizeEnvironment(env string) Environment {
	switch env {
	case "dev", "development":
		return EnvDev
	case "staging":
		return EnvStaging
	case "prod", "production":
		return EnvProd
	case "governance":
		return EnvGovernance
	case "tooling":
		return EnvTooling
	default:
		return EnvUnknown
	}
}

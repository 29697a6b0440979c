package cli

const (
	URLFlag            = "url"
	UserFlag           = "user"
	ResourceGroupFlag  = "resource-group"
	MaxAgeFlag         = "max-age"
	DeployedFlag       = "deployed"
	ExcludeRepoFlag    = "exclude-repo"
	DeleteUntaggedFlag = "delete-untagged"
	CleanupAllFlag     = "cleanup-all"
	DryRunFlag         = "dry-run"
	TimeoutFlag        = "timeout"
	WorkersFlag        = "workers"
	IntervalFlag       = "interval"
	OutputFormatFlag   = "format"
	DebugFlag          = "debug"
	VerifyTLSFlag      = "verify-tls"
	CertDirFlag        = "cert-dir"
	AuditLogFlag       = "audit-log"
	VersionFlag        = "version"
)

package classify

// Domain is one of the classifier's domain tags (§4.7).
type Domain string

const (
	DomainEcommerce         Domain = "ecommerce"
	DomainSocialMedia       Domain = "social_media"
	DomainFintech           Domain = "fintech"
	DomainTaskManagement    Domain = "task_management"
	DomainContentManagement Domain = "content_management"
	DomainGeneral           Domain = "general"
)

// domainPattern is one ENUMERATED domain keyword set with its match weight.
type domainPattern struct {
	domain   Domain
	keywords []string
}

// domainThreshold is the minimum score a domain must reach to be chosen
// over the general default.
const domainThreshold = 1

var domainPatterns = []domainPattern{
	{
		domain: DomainEcommerce,
		keywords: []string{
			"shop", "store", "cart", "checkout", "product", "order", "inventory",
			"sku", "catalog", "payment", "shipping", "marketplace",
		},
	},
	{
		domain: DomainSocialMedia,
		keywords: []string{
			"post", "comment", "like", "follow", "feed", "friend", "profile",
			"social", "share", "timeline", "message", "chat", "notification",
		},
	},
	{
		domain: DomainFintech,
		keywords: []string{
			"bank", "account", "transaction", "ledger", "wallet", "balance",
			"loan", "invoice", "payment", "currency", "interest", "credit",
		},
	},
	{
		domain: DomainTaskManagement,
		keywords: []string{
			"task", "todo", "project", "board", "kanban", "sprint", "assignee",
			"deadline", "milestone", "ticket", "workflow",
		},
	},
	{
		domain: DomainContentManagement,
		keywords: []string{
			"blog", "article", "post", "page", "cms", "author", "publish",
			"category", "tag", "content", "media",
		},
	},
}

// techStackTokens maps a lowercase token found in the prompt to a tech-stack
// tag fragment. Tokens are checked independently; both a datastore and a
// framework token may combine (e.g. "postgres" + "fastapi").
var techStackTokens = map[string]string{
	"postgres":   "postgres",
	"postgresql": "postgres",
	"mongo":      "mongo",
	"mongodb":    "mongo",
	"mysql":      "mysql",
	"sqlite":     "sqlite",
	"fastapi":    "fastapi",
	"django":     "django",
	"flask":      "flask",
	"express":    "express",
	"nestjs":     "nestjs",
	"gin":        "gin",
	"fiber":      "fiber",
	"spring":     "spring",
	"rails":      "rails",
}

// DefaultTechStack is used when the prompt carries no recognizable stack
// tokens.
const DefaultTechStack = "fastapi_postgres"

// DefaultSuggestedName is the boundary-behavior name for an empty prompt.
const DefaultSuggestedName = "Untitled API"

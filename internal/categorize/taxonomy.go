package categorize

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/amishk599/jobsync/internal/model"
)

// Taxonomy is the ordered category list plus the fallback category. The
// order of Categories is the title and tag tier priority.
type Taxonomy struct {
	Categories []model.Category
	DefaultID  int64
}

// Category ids for the built-in taxonomy. Ids follow priority order so the
// description tier's lowest-id tie-break agrees with it.
const (
	ProjectManagement int64 = iota + 1
	ProductManagement
	DataScience
	DevOps
	QATesting
	Design
	CustomerSupport
	Sales
	Programming
	Marketing
	Writing
	FinanceLegal
	HumanResources
	Other
)

func kw(tier model.KeywordTier, terms ...string) []model.Keyword {
	out := make([]model.Keyword, len(terms))
	for i, t := range terms {
		out[i] = model.Keyword{Term: t, Tier: tier}
	}
	return out
}

func category(id int64, name, slug string, title, description []string) model.Category {
	return model.Category{
		ID:       id,
		Name:     name,
		Slug:     slug,
		Keywords: append(kw(model.KeywordTitle, title...), kw(model.KeywordDescription, description...)...),
	}
}

// DefaultTaxonomy returns the built-in taxonomy. Specific roles come before
// the generic engineer/developer bucket so "DevOps Engineer" is DevOps.
func DefaultTaxonomy() *Taxonomy {
	return &Taxonomy{
		DefaultID: Other,
		Categories: []model.Category{
			category(ProjectManagement, "Project Management", "project-management",
				[]string{"project manager", "program manager", "programme manager", "project coordinator", "scrum master", "delivery manager", "project lead"},
				[]string{"project plan", "stakeholder", "agile", "scrum", "milestone", "timeline", "jira"}),
			category(ProductManagement, "Product Management", "product-management",
				[]string{"product manager", "product owner", "product lead", "head of product", "product management", "vp of product"},
				[]string{"roadmap", "product strategy", "product vision", "prioritization", "user stories", "product-market fit", "customer discovery"}),
			category(DataScience, "Data Science & Analytics", "data-science-analytics",
				[]string{"data scientist", "data science", "data analyst", "data engineer", "machine learning", "analytics", "business intelligence", "ml engineer", "statistician"},
				[]string{"sql", "python", "statistics", "tableau", "pandas", "modeling", "dashboards", "etl pipeline"}),
			category(DevOps, "DevOps & Sysadmin", "devops-sysadmin",
				[]string{"devops", "site reliability", "platform engineer", "infrastructure", "sysadmin", "system administrator", "systems administrator", "cloud engineer", "network engineer"},
				[]string{"kubernetes", "terraform", "ci/cd", "amazon web services", "docker", "monitoring", "on-call", "linux"}),
			category(QATesting, "QA & Testing", "qa-testing",
				[]string{"qa engineer", "qa analyst", "quality assurance", "test engineer", "sdet", "tester", "test automation", "quality engineer"},
				[]string{"test cases", "regression", "selenium", "cypress", "test plans", "bug reports"}),
			category(Design, "Design", "design",
				[]string{"designer", "ux researcher", "ui/ux", "design lead", "creative director", "illustrator"},
				[]string{"figma", "sketch", "prototyp", "wireframe", "user research", "design system", "visual design"}),
			category(CustomerSupport, "Customer Support", "customer-support",
				[]string{"customer support", "customer success", "customer service", "support engineer", "support specialist", "technical support", "help desk", "helpdesk", "customer experience"},
				[]string{"tickets", "zendesk", "customer satisfaction", "troubleshoot", "support queue"}),
			category(Sales, "Sales", "sales",
				[]string{"sales", "account executive", "business development", "account manager", "partnerships manager"},
				[]string{"quota", "pipeline", "crm", "salesforce", "prospecting", "closing deals", "revenue targets"}),
			category(Programming, "Programming & Development", "programming-development",
				[]string{"engineer", "developer", "programmer", "software", "frontend", "front-end", "backend", "back-end", "full stack", "full-stack", "fullstack", "architect"},
				[]string{"golang", "javascript", "typescript", "react", "java", "microservices", "code review", "pull requests"}),
			category(Marketing, "Marketing", "marketing",
				[]string{"marketing", "seo specialist", "growth manager", "brand manager", "social media", "demand generation", "community manager"},
				[]string{"campaigns", "seo", "content strategy", "lead generation", "brand awareness", "hubspot", "conversion"}),
			category(Writing, "Writing & Content", "writing-content",
				[]string{"writer", "copywriter", "editor", "content strategist", "content manager", "documentation"},
				[]string{"editorial", "blog posts", "style guide", "storytelling", "proofread"}),
			category(FinanceLegal, "Finance & Legal", "finance-legal",
				[]string{"accountant", "finance", "financial", "legal", "counsel", "attorney", "paralegal", "compliance", "controller", "bookkeeper", "payroll"},
				[]string{"gaap", "audit", "reconciliation", "contracts", "regulatory", "tax", "forecasting"}),
			category(HumanResources, "Human Resources", "human-resources",
				[]string{"recruiter", "recruiting", "talent acquisition", "human resources", "people operations", "people partner", "hr manager", "hr business partner", "hr generalist"},
				[]string{"onboarding", "benefits administration", "employee relations", "sourcing candidates", "hris"}),
			category(Other, "Other", "other", nil, nil),
		},
	}
}

// rawTaxonomy is the YAML form: keywords are split per tier for readability.
type rawTaxonomy struct {
	Default    string        `yaml:"default" validate:"required"`
	Categories []rawCategory `yaml:"categories" validate:"required,min=1,dive"`
}

type rawCategory struct {
	ID                  int64    `yaml:"id" validate:"required,gt=0"`
	Name                string   `yaml:"name" validate:"required"`
	Slug                string   `yaml:"slug" validate:"required"`
	TitleKeywords       []string `yaml:"title_keywords" validate:"dive,required"`
	DescriptionKeywords []string `yaml:"description_keywords" validate:"dive,required"`
}

// LoadTaxonomy reads a taxonomy override from a YAML file.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}
	return ParseTaxonomy(data)
}

// ParseTaxonomy decodes and validates a YAML taxonomy. Categories keep their
// file order as priority; default names a category slug.
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var raw rawTaxonomy
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}
	if err := validator.New().Struct(raw); err != nil {
		return nil, fmt.Errorf("validate taxonomy: %w", err)
	}

	t := &Taxonomy{}
	ids := make(map[int64]bool)
	slugs := make(map[string]bool)
	for _, rc := range raw.Categories {
		if ids[rc.ID] {
			return nil, fmt.Errorf("validate taxonomy: duplicate category id %d", rc.ID)
		}
		if slugs[rc.Slug] {
			return nil, fmt.Errorf("validate taxonomy: duplicate category slug %q", rc.Slug)
		}
		ids[rc.ID], slugs[rc.Slug] = true, true
		if rc.Slug == raw.Default {
			t.DefaultID = rc.ID
		}
		t.Categories = append(t.Categories, category(rc.ID, rc.Name, rc.Slug, rc.TitleKeywords, rc.DescriptionKeywords))
	}
	if t.DefaultID == 0 {
		return nil, fmt.Errorf("validate taxonomy: default %q is not a category slug", raw.Default)
	}
	return t, nil
}

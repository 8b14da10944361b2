package domain

// Project is a portfolio project as served by /api/projects.
type Project struct {
	ID           int      `json:"id,omitempty"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	ImageURL     string   `json:"imageUrl,omitempty"`
	GithubURL    string   `json:"githubUrl,omitempty"`
	DemoURL      string   `json:"demoUrl,omitempty"`
	Technologies []string `json:"technologies"`
	StartDate    string   `json:"startDate,omitempty"`
	EndDate      string   `json:"endDate,omitempty"`
	Featured     bool     `json:"featured"`
}

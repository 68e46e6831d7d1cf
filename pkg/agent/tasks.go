package agent

import "github.com/jdziat/crewrun/pkg/core"

// Agent roles used by the default plan.
const (
	RoleProjectManager     = "project_manager"
	RoleSoftwareArchitect  = "software_architect"
	RoleFullstackDeveloper = "fullstack_developer"
	RoleTestEngineer       = "test_engineer"
)

// DefaultTasks returns the eleven-step software-team plan. Analysis,
// design, planning and implementation are critical; the rest are tolerated
// failures.
func DefaultTasks() []core.TaskSpec {
	return []core.TaskSpec{
		{
			ID:          "requirements_analysis",
			Agent:       RoleProjectManager,
			Critical:    true,
			Description: "Analyze the project goal and write down functional and non-functional requirements.",
		},
		{
			ID:          "architecture_design",
			DependsOn:   []string{"requirements_analysis"},
			Agent:       RoleSoftwareArchitect,
			Critical:    true,
			Description: "Design the system architecture that satisfies the requirements.",
		},
		{
			ID:          "codebase_analysis",
			DependsOn:   []string{"architecture_design"},
			Agent:       RoleSoftwareArchitect,
			Description: "Survey the existing codebase and map it onto the proposed architecture.",
		},
		{
			ID:          "sprint_planning",
			DependsOn:   []string{"requirements_analysis", "codebase_analysis"},
			Agent:       RoleProjectManager,
			Critical:    true,
			Description: "Break the work into prioritized sprint items.",
		},
		{
			ID:          "feature_implementation",
			DependsOn:   []string{"sprint_planning"},
			Agent:       RoleFullstackDeveloper,
			Critical:    true,
			Description: "Implement the planned features.",
		},
		{
			ID:          "test_development",
			DependsOn:   []string{"feature_implementation"},
			Agent:       RoleTestEngineer,
			Description: "Write tests covering the implemented features.",
		},
		{
			ID:          "code_review",
			DependsOn:   []string{"feature_implementation", "test_development"},
			Agent:       RoleSoftwareArchitect,
			Description: "Review the implementation and tests for correctness and quality.",
		},
		{
			ID:          "code_refactoring",
			DependsOn:   []string{"code_review"},
			Agent:       RoleFullstackDeveloper,
			Description: "Apply the review findings.",
		},
		{
			ID:          "code_cleanup",
			DependsOn:   []string{"code_refactoring"},
			Agent:       RoleFullstackDeveloper,
			Description: "Remove dead code and tidy the codebase.",
		},
		{
			ID:          "documentation_update",
			DependsOn:   []string{"code_cleanup"},
			Agent:       RoleProjectManager,
			Description: "Update user and developer documentation.",
		},
		{
			ID:          "sprint_retrospective",
			DependsOn:   []string{"documentation_update"},
			Agent:       RoleProjectManager,
			Description: "Summarize what went well and what to improve.",
		},
	}
}

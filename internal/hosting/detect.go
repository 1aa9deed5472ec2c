package hosting

import (
	"os"
	"path/filepath"
)

// DetectLanguage guesses a repo's primary language from the build
// files present.
func DetectLanguage(repoDir string) string {
	for _, probe := range []struct {
		file string
		lang string
	}{
		{"package.json", "javascript"},
		{"Cargo.toml", "rust"},
		{"go.mod", "go"},
		{"pom.xml", "java"},
		{"build.gradle", "java"},
		{"pyproject.toml", "python"},
		{"setup.py", "python"},
	} {
		if _, err := os.Stat(filepath.Join(repoDir, probe.file)); err == nil {
			return probe.lang
		}
	}

	byExt := map[string]string{
		".py": "python", ".js": "javascript", ".ts": "typescript",
		".rb": "ruby", ".rs": "rust", ".go": "go", ".java": "java",
	}
	for ext, lang := range byExt {
		matches, _ := filepath.Glob(filepath.Join(repoDir, "*"+ext))
		if len(matches) > 0 {
			return lang
		}
	}
	return "unknown"
}

// DetectTestCmd guesses the repo's test command from its language and
// build files. Returns empty when nothing obvious applies.
func DetectTestCmd(repoDir, language string) string {
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(repoDir, name))
		return err == nil
	}

	switch language {
	case "python":
		if exists("pytest.ini") || exists("pyproject.toml") || exists("setup.py") {
			return "python -m pytest -v"
		}
	case "javascript", "typescript":
		if exists("package.json") {
			return "npm test"
		}
	case "rust":
		return "cargo test"
	case "go":
		return "go test ./..."
	}
	return ""
}

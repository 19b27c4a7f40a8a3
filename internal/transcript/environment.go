package transcript

import (
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ospgroupvn/usage-monitor/pkg/models"
)

// Environment is identity and project metadata gathered from the execution
// environment around a session, not from the transcript itself.
type Environment struct {
	ActorID      string
	ProjectName  string
	RepoFullName string
	RepoURL      string
	RepoName     string
}

// DescribeEnvironment inspects the working directory and its git
// configuration. Every lookup failure yields empty fields rather than an
// error; metadata is best-effort.
func DescribeEnvironment(dir string) Environment {
	env := Environment{}

	if abs, err := filepath.Abs(dir); err == nil {
		env.ProjectName = filepath.Base(abs)
	}

	if user := gitConfig(dir, "github.user"); user != "" {
		env.ActorID = user
	} else {
		env.ActorID = gitConfig(dir, "user.name")
	}

	remote := gitConfig(dir, "remote.origin.url")
	if remote != "" {
		env.RepoURL = remote
		env.RepoFullName = parseRemote(remote)
		if idx := strings.LastIndex(env.RepoFullName, "/"); idx >= 0 {
			env.RepoName = env.RepoFullName[idx+1:]
		}
	}

	return env
}

// Apply attaches the environment metadata to a usage record. The record's
// actor is only filled when the environment knows one.
func (e Environment) Apply(record *models.UsageRecord) {
	if e.ActorID != "" {
		record.ActorID = e.ActorID
	}
	if record.ProjectName == "" {
		record.ProjectName = e.ProjectName
	}
	record.RepoFullName = e.RepoFullName
	record.RepoURL = e.RepoURL
	record.RepoName = e.RepoName
}

func gitConfig(dir, key string) string {
	out, err := exec.Command("git", "-C", dir, "config", "--get", key).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// parseRemote reduces a git remote URL to owner/repo. Handles the ssh form
// (git@host:owner/repo.git) and the https form.
func parseRemote(remote string) string {
	remote = strings.TrimSuffix(remote, ".git")

	if idx := strings.Index(remote, "://"); idx >= 0 {
		parts := strings.SplitN(remote[idx+3:], "/", 2)
		if len(parts) == 2 {
			return parts[1]
		}
		return ""
	}

	if idx := strings.Index(remote, ":"); idx >= 0 && strings.Contains(remote, "@") {
		return remote[idx+1:]
	}

	return ""
}

package github

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cli/oauth"
	"github.com/cli/oauth/api"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

// Pushing entry branches and editing pull requests needs full repo access;
// read:org lets reviewers be requested by team.
var loginScopes = []string{"repo", "read:org"}

// webURL returns the browser-facing address of the GitHub instance serving
// host. An empty host means github.com.
func webURL(host string) string {
	if host == "" || host == "github.com" {
		return "https://github.com"
	}
	return "https://" + host
}

// DeviceLogin authorizes fel through GitHub's device flow: the user enters
// a one-time code in a browser while fel polls for the grant.
type DeviceLogin struct {
	ClientID string
	// Host is the repository host, as in RepoURL.Host.
	Host   string
	Scopes []string
	// Prompt receives the code and instructions. Commands pass stderr so
	// structured output on stdout is left alone.
	Prompt io.Writer
	Input  io.Reader
}

// Token runs the flow until the user grants access or it expires.
func (d DeviceLogin) Token(ctx context.Context) (*api.AccessToken, error) {
	if d.ClientID == "" {
		return nil, felerrors.NewConfigError("github.client_id", "oauth login needs the client id of a GitHub OAuth app")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	host, err := oauth.NewGitHubHost(webURL(d.Host))
	if err != nil {
		return nil, felerrors.NewGitHubErrorWithCause("DeviceLogin", "no device flow endpoints for "+d.Host, err)
	}

	scopes := d.Scopes
	if len(scopes) == 0 {
		scopes = loginScopes
	}
	prompt := d.Prompt
	if prompt == nil {
		prompt = os.Stderr
	}
	input := d.Input
	if input == nil {
		input = os.Stdin
	}

	flow := &oauth.Flow{
		Host:     host,
		ClientID: d.ClientID,
		Scopes:   scopes,
		Stdout:   prompt,
		Stdin:    input,
		DisplayCode: func(code, verificationURL string) error {
			_, err := fmt.Fprintf(prompt, "\nfel needs access to GitHub. Enter the code %s at %s\n"+
				"Press Enter to open the page in your browser...\n", code, verificationURL)
			return err
		},
	}

	token, err := flow.DeviceFlow()
	if err != nil {
		return nil, felerrors.NewGitHubErrorWithCause("DeviceLogin", "authorization was not granted", err)
	}
	return token, nil
}

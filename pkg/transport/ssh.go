package transport

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// boxfsServeCommand is the remote-side command a ssh:// transport
// invokes, analogous to git's git-upload-pack/git-receive-pack: a
// single process on the peer that speaks the frame protocol over its
// stdin/stdout, piped through the SSH session.
const boxfsServeCommand = "boxfs-serve"

// SSH is a golang.org/x/crypto/ssh-backed transport: it opens one SSH
// session per connection and runs boxfsServeCommand on the remote end,
// piping the frame protocol over the session's stdin/stdout. Key
// resolution follows the same default-candidate order the teacher's
// commit-signing helper uses (cmd/got/signing_ssh.go).
type SSH struct {
	*session
	client *ssh.Client
}

// sshPipe adapts a ssh.Session's stdin/stdout into an io.ReadWriteCloser.
type sshPipe struct {
	io.Reader
	io.WriteCloser
	sess   *ssh.Session
	client *ssh.Client
}

func (p *sshPipe) Close() error {
	werr := p.WriteCloser.Close()
	_ = p.sess.Wait()
	cerr := p.client.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// DialSSH connects to addr ("host:port") as user, authenticating with
// keyPath (or the default ~/.ssh candidates if empty), and starts
// boxfsServeCommand on the remote end.
func DialSSH(addr, user, keyPath string) (*SSH, error) {
	signer, err := loadSSHSigner(keyPath)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("transport: ssh dial %s: %w", addr, err)
	}

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("transport: ssh session %s: %w", addr, err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("transport: ssh stdin %s: %w", addr, err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("transport: ssh stdout %s: %w", addr, err)
	}
	if err := sess.Start(boxfsServeCommand); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("transport: ssh start %s: %w", addr, err)
	}

	pipe := &sshPipe{Reader: stdout, WriteCloser: stdin, sess: sess, client: client}
	return &SSH{session: newSession(pipe, addr), client: client}, nil
}

func loadSSHSigner(keyPath string) (ssh.Signer, error) {
	path := strings.TrimSpace(keyPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("transport: ssh: resolve home dir: %w", err)
		}
		for _, candidate := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			full := filepath.Join(home, ".ssh", candidate)
			if st, err := os.Stat(full); err == nil && !st.IsDir() {
				path = full
				break
			}
		}
		if path == "" {
			return nil, fmt.Errorf("transport: ssh: no default private key found in ~/.ssh")
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transport: ssh: read key %q: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("transport: ssh: parse key %q: %w", path, err)
	}
	return signer, nil
}

// ServeSSH is the boxfsServeCommand entry point: it answers the frame
// protocol over stdio, for use by a process launched via an SSH
// ForceCommand.
func ServeSSH(store ObjectStore) error {
	return Serve(struct {
		io.Reader
		io.WriteCloser
	}{os.Stdin, os.Stdout}, store)
}

var _ Transport = (*SSH)(nil)

// Command cdist-transport-ssh is a reference implementation of the
// exec/copy transport contract spec.md §6 leaves to the operator: given a
// mode ("exec" or "copy") and the contract's argv shape, it dials the
// target over SSH and satisfies it. cdist-ng's core never imports this
// package or dials SSH itself — an operator wires it in by pointing a
// conf-dir's transport/ssh/{exec,copy} at two one-line wrapper scripts
// that exec this binary with "exec"/"copy" prepended. Grounded on the
// teacher's SSHSession/SSHTransport (core/decorator/ssh_session.go):
// ssh.ClientConfig, PublicKeys/agent auth, known_hosts parsing, and
// session.Signal on cancellation all carry over.
package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: cdist-transport-ssh {exec|copy} ...")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if _, ok := <-sig; ok {
			cancel()
		}
	}()

	cfg, err := configFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cdist-transport-ssh:", err)
		return 1
	}

	client, err := dial(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cdist-transport-ssh:", err)
		return 1
	}
	defer client.Close()

	switch os.Args[1] {
	case "exec":
		code, err := runExec(ctx, client, os.Args[2:])
		if err != nil {
			fmt.Fprintln(os.Stderr, "cdist-transport-ssh exec:", err)
			return 1
		}
		return code
	case "copy":
		if err := runCopy(client, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "cdist-transport-ssh copy:", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(os.Stderr, "cdist-transport-ssh: unknown mode %q\n", os.Args[1])
		return 1
	}
}

// config holds the connection parameters an operator's wrapper script
// bakes in via environment, since the transport contract's own argv
// carries only KEY=VALUE pairs and the command/paths, never the target
// host.
type config struct {
	host       string
	port       int
	user       string
	keyPath    string
	insecure   bool
	knownHosts string
}

func configFromEnv() (config, error) {
	host := os.Getenv("CDIST_TRANSPORT_SSH_HOST")
	if host == "" {
		return config{}, fmt.Errorf("CDIST_TRANSPORT_SSH_HOST is not set")
	}
	port := 22
	if v := os.Getenv("CDIST_TRANSPORT_SSH_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return config{}, fmt.Errorf("invalid CDIST_TRANSPORT_SSH_PORT: %w", err)
		}
		port = p
	}
	user := os.Getenv("CDIST_TRANSPORT_SSH_USER")
	if user == "" {
		user = os.Getenv("USER")
	}
	knownHosts := os.Getenv("CDIST_TRANSPORT_SSH_KNOWN_HOSTS")
	if knownHosts == "" {
		knownHosts = os.ExpandEnv("$HOME/.ssh/known_hosts")
	}
	return config{
		host:       host,
		port:       port,
		user:       user,
		keyPath:    os.Getenv("CDIST_TRANSPORT_SSH_KEY"),
		insecure:   os.Getenv("CDIST_TRANSPORT_SSH_INSECURE") == "1",
		knownHosts: knownHosts,
	}, nil
}

func dial(cfg config) (*ssh.Client, error) {
	var auth []ssh.AuthMethod
	if cfg.keyPath != "" {
		if method := keyAuth(cfg.keyPath); method != nil {
			auth = append(auth, method)
		}
	}
	if len(auth) == 0 {
		if method := agentAuth(); method != nil {
			auth = append(auth, method)
		}
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no usable SSH auth method (set CDIST_TRANSPORT_SSH_KEY or SSH_AUTH_SOCK)")
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port)), &ssh.ClientConfig{
		User:            cfg.user,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.host, err)
	}
	return client, nil
}

func keyAuth(path string) ssh.AuthMethod {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil
	}
	return ssh.PublicKeys(signer)
}

func agentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers)
}

func hostKeyCallback(cfg config) ssh.HostKeyCallback {
	if cfg.insecure {
		return ssh.InsecureIgnoreHostKey()
	}
	callback, err := loadKnownHosts(cfg.knownHosts)
	if err != nil {
		return ssh.InsecureIgnoreHostKey()
	}
	return callback
}

func loadKnownHosts(path string) (ssh.HostKeyCallback, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	known := map[string]ssh.PublicKey{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		pubKey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(strings.Join(fields[1:], " ")))
		if err != nil {
			continue
		}
		known[fields[0]+":"+pubKey.Type()] = pubKey
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		knownKey, ok := known[hostname+":"+key.Type()]
		if !ok {
			return fmt.Errorf("host key not found in known_hosts: %s", hostname)
		}
		if !bytes.Equal(key.Marshal(), knownKey.Marshal()) {
			return fmt.Errorf("host key mismatch for %s", hostname)
		}
		return nil
	}, nil
}

// runExec implements the exec leg of the contract: "KEY=VALUE... cmd...".
// It sets each KEY=VALUE on the remote session (falling back silently if
// the server refuses SetEnv, matching the teacher's best-effort handling)
// and runs cmd, passing stdout/stderr straight through.
func runExec(ctx context.Context, client *ssh.Client, args []string) (int, error) {
	var env []string
	i := 0
	for ; i < len(args); i++ {
		if !strings.Contains(args[i], "=") || strings.Contains(args[i], " ") {
			break
		}
		env = append(env, args[i])
	}
	cmd := args[i:]
	if len(cmd) == 0 {
		return 1, fmt.Errorf("no command given")
	}

	session, err := client.NewSession()
	if err != nil {
		return 1, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	for _, kv := range env {
		parts := strings.SplitN(kv, "=", 2)
		_ = session.Setenv(parts[0], parts[1])
	}

	session.Stdin = os.Stdin
	session.Stdout = os.Stdout
	session.Stderr = os.Stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(shellJoin(cmd)) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		<-done
		return 1, ctx.Err()
	case runErr := <-done:
		if runErr == nil {
			return 0, nil
		}
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			return exitErr.ExitStatus(), nil
		}
		return 1, runErr
	}
}

// runCopy implements the copy leg: "SRC DST". SRC is a local path (a
// single file or symlink — the core's executor already fans a directory
// out into per-child Copy calls before this script ever runs); DST is the
// remote path.
func runCopy(client *ssh.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: copy SRC DST")
	}
	src, dst := args[0], args[1]

	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return copySymlink(client, src, dst)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return copyFile(client, data, dst, info.Mode().Perm())
}

func copyFile(client *ssh.Client, data []byte, dst string, mode os.FileMode) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	session.Stdin = bytes.NewReader(data)
	cmd := fmt.Sprintf("cat > %s && chmod %o %s", shellQuote(dst), mode, shellQuote(dst))
	return session.Run(cmd)
}

func copySymlink(client *ssh.Client, src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return err
	}
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	defer session.Close()
	cmd := fmt.Sprintf("ln -sfn %s %s", shellQuote(target), shellQuote(dst))
	return session.Run(cmd)
}

func shellJoin(argv []string) string {
	words := make([]string, len(argv))
	for i, a := range argv {
		words[i] = shellQuote(a)
	}
	return strings.Join(words, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

//go:build !rp2040 && !rp2350

package wifi

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"autovolume-go/errcode"
)

const (
	// ProfileStation is the saved station profile; NetworkManager is the
	// persistence for network credentials on hosts.
	ProfileStation = "autovolume"
	// ProfileAP is the open setup hotspot.
	ProfileAP = "autovolume-setup"
	// profileTrial holds new credentials until they have connected once.
	profileTrial = "autovolume-trial"

	connectedCacheTTL = 500 * time.Millisecond
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NM drives NetworkManager through nmcli.
type NM struct {
	Iface string
	Run   Runner
	Log   *slog.Logger
	// SysRoot prefixes /sys lookups; tests point it at a temp dir.
	SysRoot string
	Now     func() time.Time

	mu        sync.Mutex
	connAt    time.Time
	connValue bool
}

func NewNM(iface string, log *slog.Logger) *NM {
	if log == nil {
		log = slog.Default()
	}
	return &NM{Iface: iface, Run: execRunner, Log: log.With("svc", "wifi"), Now: time.Now}
}

func (n *NM) nmcli(ctx context.Context, args ...string) (string, error) {
	out, err := n.Run(ctx, "nmcli", args...)
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return "", err
		}
		return "", &errcode.E{C: errcode.Error, Op: "nmcli " + nmcliOp(args), Msg: msg, Err: err}
	}
	return string(out), nil
}

// nmcliOp names the object and verb of an invocation, skipping global
// options such as -t or --wait N.
func nmcliOp(args []string) string {
	for i, a := range args {
		switch a {
		case "connection", "device", "radio", "general":
			if i+1 < len(args) {
				return a + " " + args[i+1]
			}
			return a
		}
	}
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func (n *NM) HardwareAddr() ([6]byte, error) {
	var mac [6]byte
	raw, err := os.ReadFile(n.SysRoot + "/sys/class/net/" + n.Iface + "/address")
	if err != nil {
		return mac, err
	}
	hw, err := net.ParseMAC(strings.TrimSpace(string(raw)))
	if err != nil {
		return mac, err
	}
	if len(hw) != 6 {
		return mac, errcode.New(errcode.InvalidPayload, "wifi.mac", hw.String())
	}
	copy(mac[:], hw)
	return mac, nil
}

func (n *NM) profiles(ctx context.Context) []string {
	out, err := n.nmcli(ctx, "-t", "-f", "NAME", "connection", "show")
	if err != nil {
		n.Log.Debug("list profiles", "err", err)
		return nil
	}
	var names []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if s := strings.TrimSpace(sc.Text()); s != "" {
			names = append(names, unescape(s))
		}
	}
	return names
}

func (n *NM) hasProfile(ctx context.Context, name string) bool {
	for _, p := range n.profiles(ctx) {
		if p == name {
			return true
		}
	}
	return false
}

func (n *NM) Stored() bool {
	return n.hasProfile(context.Background(), ProfileStation)
}

func (n *NM) SSID() string {
	out, err := n.nmcli(context.Background(), "-t", "-g", "802-11-wireless.ssid", "connection", "show", ProfileStation)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func (n *NM) up(ctx context.Context) error {
	n.invalidate()
	_, err := n.nmcli(ctx, "--wait", "0", "connection", "up", "id", ProfileStation, "ifname", n.Iface)
	return err
}

func (n *NM) Begin(ctx context.Context) error     { return n.up(ctx) }
func (n *NM) Reconnect(ctx context.Context) error { return n.up(ctx) }

// Connected is cached briefly; the manager polls every tick.
func (n *NM) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.Now()
	if !n.connAt.IsZero() && now.Sub(n.connAt) < connectedCacheTTL {
		return n.connValue
	}
	n.connValue = n.queryConnected()
	n.connAt = now
	return n.connValue
}

func (n *NM) invalidate() {
	n.mu.Lock()
	n.connAt = time.Time{}
	n.mu.Unlock()
}

func (n *NM) queryConnected() bool {
	out, err := n.nmcli(context.Background(), "-t", "-f", "GENERAL.STATE,GENERAL.CONNECTION", "device", "show", n.Iface)
	if err != nil {
		return false
	}
	var state int
	var conn string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		switch k {
		case "GENERAL.STATE":
			f, _, _ := strings.Cut(v, " ")
			state, _ = strconv.Atoi(f)
		case "GENERAL.CONNECTION":
			conn = unescape(v)
		}
	}
	// 100 is NM_DEVICE_STATE_ACTIVATED.
	return state == 100 && conn == ProfileStation
}

func (n *NM) Scan(ctx context.Context) ([]string, error) {
	out, err := n.nmcli(ctx, "-t", "-f", "SSID", "device", "wifi", "list", "ifname", n.Iface, "--rescan", "yes")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var ssids []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		s := unescape(strings.TrimSpace(sc.Text()))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		ssids = append(ssids, s)
	}
	return ssids, nil
}

func (n *NM) StartAP(ctx context.Context, name string) error {
	if n.hasProfile(ctx, ProfileAP) {
		_, _ = n.nmcli(ctx, "connection", "delete", ProfileAP)
	}
	if _, err := n.nmcli(ctx, "connection", "add",
		"type", "wifi", "ifname", n.Iface, "con-name", ProfileAP,
		"autoconnect", "no", "ssid", name,
		"802-11-wireless.mode", "ap", "802-11-wireless.band", "bg",
		"ipv4.method", "shared"); err != nil {
		return err
	}
	_, err := n.nmcli(ctx, "connection", "up", ProfileAP)
	if err == nil {
		n.Log.Info("access point up", "ssid", name)
	}
	return err
}

func (n *NM) StopAP(ctx context.Context) error {
	if !n.hasProfile(ctx, ProfileAP) {
		return nil
	}
	_, err := n.nmcli(ctx, "connection", "delete", ProfileAP)
	return err
}

// Join tries the credentials under a trial profile. The saved station
// profile is replaced only after the trial connects, so failed attempts
// leave the previous network in place.
func (n *NM) Join(ctx context.Context, ssid, pass string) error {
	n.invalidate()
	cleanup := context.WithoutCancel(ctx)
	if n.hasProfile(ctx, profileTrial) {
		_, _ = n.nmcli(cleanup, "connection", "delete", profileTrial)
	}
	args := []string{"connection", "add",
		"type", "wifi", "ifname", n.Iface, "con-name", profileTrial,
		"autoconnect", "yes", "ssid", ssid}
	if pass != "" {
		args = append(args, "wifi-sec.key-mgmt", "wpa-psk", "wifi-sec.psk", pass)
	}
	if _, err := n.nmcli(ctx, args...); err != nil {
		return errcode.Wrap(errcode.JoinFailed, "wifi.join", err)
	}

	wait := 20
	if dl, ok := ctx.Deadline(); ok {
		if s := int(time.Until(dl) / time.Second); s > 0 {
			wait = s
		} else {
			wait = 1
		}
	}
	if _, err := n.nmcli(ctx, "--wait", strconv.Itoa(wait), "connection", "up", "id", profileTrial, "ifname", n.Iface); err != nil {
		_, _ = n.nmcli(cleanup, "connection", "delete", profileTrial)
		return errcode.Wrap(errcode.JoinFailed, "wifi.join", err)
	}

	if n.hasProfile(cleanup, ProfileStation) {
		if _, err := n.nmcli(cleanup, "connection", "delete", ProfileStation); err != nil {
			return errcode.Wrap(errcode.JoinFailed, "wifi.join", err)
		}
	}
	if _, err := n.nmcli(cleanup, "connection", "modify", profileTrial, "connection.id", ProfileStation); err != nil {
		return errcode.Wrap(errcode.JoinFailed, "wifi.join", err)
	}
	n.invalidate()
	n.Log.Info("joined", "ssid", ssid)
	return nil
}

func (n *NM) Forget() error {
	n.invalidate()
	ctx := context.Background()
	if !n.hasProfile(ctx, ProfileStation) {
		return nil
	}
	_, err := n.nmcli(ctx, "connection", "delete", ProfileStation)
	return err
}

// SystemDialer dials through the host network stack.
type SystemDialer struct{ net.Dialer }

// unescape reverses nmcli terse-mode escaping of ':' and '\'.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b bytes.Buffer
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

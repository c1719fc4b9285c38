//go:build rp2040 || rp2350

package wifi

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs"
	"github.com/soypat/seqs/eth/dns"
	"github.com/soypat/seqs/stacks"
)

func dialTCP(ctx context.Context, stack *stacks.PortStack, dc *stacks.DHCPClient, localPort uint16, addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		r, rerr := newResolver(stack, dc)
		if rerr != nil {
			return nil, rerr
		}
		addrs, lerr := r.lookup(host)
		if lerr != nil {
			return nil, lerr
		}
		ip = addrs[0]
	}
	routerMAC, err := resolveHardwareAddr(stack, dc.Router())
	if err != nil {
		return nil, err
	}

	conn, err := stacks.NewTCPConn(stack, stacks.TCPConnConfig{
		TxBufSize: 2048,
		RxBufSize: 2048,
	})
	if err != nil {
		return nil, err
	}
	iss := seqs.Value(time.Now().UnixNano())
	if err := conn.OpenDialTCP(localPort, routerMAC, netip.AddrPortFrom(ip, uint16(port)), iss); err != nil {
		return nil, err
	}
	for conn.State() != seqs.StateEstablished {
		select {
		case <-ctx.Done():
			conn.Abort()
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
		if conn.State() == seqs.StateClosed {
			return nil, errors.New("tcp: connection refused")
		}
	}
	return conn, nil
}

// resolveHardwareAddr obtains the hardware address of ip through ARP.
func resolveHardwareAddr(stack *stacks.PortStack, ip netip.Addr) ([6]byte, error) {
	if !ip.IsValid() {
		return [6]byte{}, errors.New("invalid ip")
	}
	arpc := stack.ARP()
	arpc.Abort()
	if err := arpc.BeginResolve(ip); err != nil {
		return [6]byte{}, err
	}
	time.Sleep(4 * time.Millisecond)
	const timeout = time.Second
	const maxretries = 20
	for retries := maxretries; !arpc.IsDone(); retries-- {
		if retries == 0 {
			return [6]byte{}, errors.New("arp timed out")
		}
		time.Sleep(timeout / maxretries)
	}
	_, hw, err := arpc.ResultAs6()
	return hw, err
}

type resolver struct {
	stack     *stacks.PortStack
	dns       *stacks.DNSClient
	dnsaddr   netip.Addr
	dnshwaddr [6]byte
}

func newResolver(stack *stacks.PortStack, dc *stacks.DHCPClient) (*resolver, error) {
	addrs := dc.DNSServers()
	if len(addrs) == 0 || !addrs[0].IsValid() {
		return nil, errors.New("no dns server from dhcp")
	}
	return &resolver{
		stack:   stack,
		dns:     stacks.NewDNSClient(stack, dns.ClientPort),
		dnsaddr: addrs[0],
	}, nil
}

func (r *resolver) lookup(host string) ([]netip.Addr, error) {
	name, err := dns.NewName(host)
	if err != nil {
		return nil, err
	}
	if r.dnshwaddr, err = resolveHardwareAddr(r.stack, r.dnsaddr); err != nil {
		return nil, err
	}
	err = r.dns.StartResolve(stacks.DNSResolveConfig{
		Questions: []dns.Question{{
			Name:  name,
			Type:  dns.TypeA,
			Class: dns.ClassINET,
		}},
		DNSAddr:         r.dnsaddr,
		DNSHWAddr:       r.dnshwaddr,
		EnableRecursion: true,
	})
	if err != nil {
		return nil, err
	}
	time.Sleep(5 * time.Millisecond)
	for retries := 100; retries > 0; retries-- {
		if done, _ := r.dns.IsDone(); done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	done, rcode := r.dns.IsDone()
	if !done {
		return nil, errors.New("dns lookup timed out")
	} else if rcode != dns.RCodeSuccess {
		return nil, errors.New("dns lookup failed: " + rcode.String())
	}
	var addrs []netip.Addr
	for _, a := range r.dns.Answers() {
		if data := a.RawData(); len(data) == 4 {
			addrs = append(addrs, netip.AddrFrom4([4]byte(data)))
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("no ipv4 dns answers")
	}
	return addrs, nil
}

// nicLoop moves frames between the radio and the stack.
func nicLoop(dev *cyw43439.Device, stack *stacks.PortStack) {
	const (
		queueSize                = 3
		maxRetriesBeforeDropping = 3
	)
	var queue [queueSize][mtu]byte
	var lenBuf [queueSize]int
	var retries [queueSize]int
	for {
		stallRx := true
		gotPacket, err := dev.PollOne()
		if err != nil {
			println("poll error:", err.Error())
		}
		if gotPacket {
			stallRx = false
		}

		for i := range queue {
			if retries[i] != 0 {
				continue
			}
			lenBuf[i], err = stack.HandleEth(queue[i][:])
			if err != nil {
				lenBuf[i] = 0
				continue
			}
			if lenBuf[i] == 0 {
				break
			}
		}
		if lenBuf == [queueSize]int{} {
			if stallRx {
				time.Sleep(51 * time.Millisecond)
			}
			continue
		}

		for i := range queue {
			n := lenBuf[i]
			if n <= 0 {
				continue
			}
			if err := dev.SendEth(queue[i][:n]); err != nil {
				retries[i]++
				if retries[i] > maxRetriesBeforeDropping {
					lenBuf[i], retries[i] = 0, 0
					println("dropped outgoing packet:", err.Error())
				}
			} else {
				lenBuf[i], retries[i] = 0, 0
			}
		}
	}
}

package linkimpl

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// capNetRaw is CAP_NET_RAW's bit position in the Linux capability bitmask
// (include/uapi/linux/capability.h).
const capNetRaw = 13

// RequirePrivileges checks that the process can open a raw IPPROTO_ICMP
// socket and SO_BINDTODEVICE it: root, or CAP_NET_RAW. Unlike a split
// sender/listener design, RawLink never needs CAP_NET_ADMIN — that
// capability only comes into play for interface administration (setting
// flags, promiscuous mode via ioctl), neither of which RawLink does;
// SO_BINDTODEVICE itself is gated on CAP_NET_RAW alone (socket(7)).
func RequirePrivileges() error {
	if os.Geteuid() == 0 {
		return nil
	}
	ok, err := hasCap(capNetRaw)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("requires CAP_NET_RAW (or root): sudo setcap cap_net_raw+ep /path/to/icmpmsgr-node")
	}
	return nil
}

func hasCap(bit int) (bool, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return false, err
	}
	defer f.Close()

	var capEffStr string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "CapEff:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				capEffStr = fields[1]
				break
			}
		}
	}
	if capEffStr == "" {
		return false, errors.New("CapEff not found in /proc/self/status")
	}

	val, err := strconv.ParseUint(capEffStr, 16, 64)
	if err != nil {
		return false, err
	}
	return (val & (1 << uint(bit))) != 0, nil
}

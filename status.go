package golin

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/albenik/bcd"
)

/*
The F reply carries the interface error flags as a decimal number in two
packed BCD bytes, "F0012" is flags 12.

Bit 0 sync field error
Bit 1 protected identifier parity error
Bit 2 checksum error
Bit 3 slave not responding
Bit 4 bit error, read back differs from sent
Bit 5 receive overrun
*/
const (
	StatusSyncError = 1 << iota
	StatusParityError
	StatusChecksumError
	StatusNoResponse
	StatusBitError
	StatusOverrun
)

var statusErrors = []struct {
	flag int
	err  error
}{
	{StatusSyncError, errors.New("sync field error")},
	{StatusParityError, errors.New("identifier parity error")},
	{StatusChecksumError, errors.New("checksum error")},
	{StatusNoResponse, errors.New("slave not responding")},
	{StatusBitError, errors.New("bit error")},
	{StatusOverrun, errors.New("receive overrun")},
}

func decodeStatus(b []byte) error {
	if len(b) < 5 {
		return fmt.Errorf("short status reply %q", b)
	}
	raw, err := hex.DecodeString(string(b[1:5]))
	if err != nil {
		return fmt.Errorf("failed to decode status: %w", err)
	}
	flags := int(bcd.ToUint16(raw))
	var errs []error
	for _, s := range statusErrors {
		if checkBitSet(flags, s.flag) {
			errs = append(errs, s.err)
		}
	}
	return errors.Join(errs...)
}

func checkBitSet(n, mask int) bool {
	return n&mask != 0
}

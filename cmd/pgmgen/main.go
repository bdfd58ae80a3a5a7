// pgmgen sends well-formed PGM ODATA datagrams to a multicast address for
// exercising a pgmrecv receiver end to end.
package main

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/dewetron/pgmrecv/internal/pgm/wire"
)

func main() {
	multicastIP := flag.String("ip", "239.0.0.1", "Multicast IP")
	port := flag.Int("port", 7500, "PGM port")
	srcPort := flag.Int("src-port", 5000, "Source port identifying this session's TSI")
	count := flag.Int("count", 10, "Number of ODATA packets to send")
	interval := flag.Duration("interval", 100*time.Millisecond, "Interval between packets")
	dropEvery := flag.Int("drop-every", 0, "Skip sending every Nth packet to exercise gap recovery (0 disables)")
	flag.Parse()

	addr := &net.UDPAddr{IP: net.ParseIP(*multicastIP), Port: *port}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to dial: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	var gsi wire.GSI
	for i := range gsi {
		gsi[i] = byte(os.Getpid() + i)
	}

	fmt.Printf("Sending %d PGM ODATA packets to %s:%d (src-port=%d)\n", *count, *multicastIP, *port, *srcPort)

	for seq := 0; seq < *count; seq++ {
		if *dropEvery > 0 && seq > 0 && seq%*dropEvery == 0 {
			fmt.Printf("dropping seq=%d to simulate loss\n", seq)
			continue
		}

		payload := []byte(fmt.Sprintf("pgmgen-seq-%d-time-%d", seq, time.Now().UnixNano()))
		pkt := buildODATA(gsi, uint16(*srcPort), uint16(*port), uint32(seq), payload)

		if _, err := conn.Write(pkt); err != nil {
			fmt.Fprintf(os.Stderr, "failed to send seq %d: %v\n", seq, err)
			continue
		}
		fmt.Printf("sent seq=%d (%d bytes)\n", seq, len(pkt))
		time.Sleep(*interval)
	}

	fmt.Println("done")
}

// buildODATA frames a PGM ODATA packet for UDP-encapsulated delivery: a
// 4-byte encapsulation prefix, the 16-byte common header, the 8-byte
// data trailer (sequence + trailing edge), and the payload, with the
// Internet checksum computed over everything after the encapsulation
// prefix.
func buildODATA(gsi wire.GSI, srcPort, destPort uint16, seq uint32, payload []byte) []byte {
	const encapLen = 4
	common := make([]byte, wire.CommonHeaderLen+8+len(payload))

	binary.BigEndian.PutUint16(common[0:2], srcPort)
	binary.BigEndian.PutUint16(common[2:4], destPort)
	common[4] = byte(wire.TypeODATA)
	common[5] = 0 // no option extensions
	copy(common[8:14], gsi[:])
	binary.BigEndian.PutUint16(common[14:16], uint16(len(payload)))
	binary.BigEndian.PutUint32(common[16:20], seq)
	binary.BigEndian.PutUint32(common[20:24], seq) // trailing edge tracks sequence for this generator
	copy(common[wire.CommonHeaderLen+8:], payload)

	zeroed := make([]byte, len(common))
	copy(zeroed, common)
	zeroed[6], zeroed[7] = 0, 0
	sum := wire.Checksum(zeroed)
	binary.BigEndian.PutUint16(common[6:8], sum)

	framed := make([]byte, encapLen+len(common))
	copy(framed[encapLen:], common)
	return framed
}

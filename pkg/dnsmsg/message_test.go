/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package dnsmsg

import (
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketsQuestionOnly(t *testing.T) {
	m := NewOutboundMessage(0x1234, FlagResponse, false)

	require.NoError(t, m.AddQuestion(Question{Name: "_services._dns-sd._udp.local", Type: TypePTR, Class: ClassInet}))

	pkts, err := m.Packets()
	require.NoError(t, err)
	require.Len(t, pkts, 1)

	pkt := pkts[0]
	require.GreaterOrEqual(t, len(pkt), 12)

	// Multicast messages zero the transaction id.
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(pkt[0:2]))
	assert.Equal(t, FlagResponse, binary.BigEndian.Uint16(pkt[2:4]))
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(pkt[4:6]))
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(pkt[6:8]))
}

func TestPacketsUnicastKeepsID(t *testing.T) {
	m := NewOutboundMessage(0xBEEF, 0, true)
	require.NoError(t, m.AddQuestion(Question{Name: "host.local", Type: TypeA, Class: ClassInet}))

	pkts, err := m.Packets()
	require.NoError(t, err)
	require.Len(t, pkts, 1)
	assert.Equal(t, uint16(0xBEEF), binary.BigEndian.Uint16(pkts[0][0:2]))
}

func TestPacketsSizeBound(t *testing.T) {
	m := NewOutboundMessage(1, FlagResponse, false)

	require.NoError(t, m.AddQuestion(Question{Name: "bulk.local", Type: TypeTXT, Class: ClassInet}))

	// One answer bigger than the typical limit but under the absolute
	// limit, then enough ordinary answers to force continuation packets.
	big := Record{
		Name:  "big.bulk.local",
		Type:  TypeTXT,
		Class: ClassInet,
		TTL:   120,
		Data:  make([]byte, 4000),
	}
	require.NoError(t, m.AddAnswer(big, time.Time{}))

	payload := make([]byte, 700)

	for i := 0; i < 10; i++ {
		rec := Record{
			Name:  "svc" + strings.Repeat("x", i+1) + ".bulk.local",
			Type:  TypeTXT,
			Class: ClassInet,
			TTL:   120,
			Data:  payload,
		}
		require.NoError(t, m.AddAnswer(rec, time.Time{}))
	}

	pkts, err := m.Packets()
	require.NoError(t, err)
	require.Greater(t, len(pkts), 1)

	oversized := 0

	for _, pkt := range pkts {
		require.LessOrEqual(t, len(pkt), AbsolutePacketSize)

		if len(pkt) > TypicalPacketSize {
			oversized++
		}
	}

	// Only the packet holding the single allowed oversized first answer
	// may exceed the typical limit.
	assert.LessOrEqual(t, oversized, 1)

	// Every record must have been written somewhere.
	total := 0
	for _, pkt := range pkts {
		total += int(binary.BigEndian.Uint16(pkt[6:8]))
	}

	assert.Equal(t, 11, total)
}

func TestPacketsQuestionsRepeated(t *testing.T) {
	m := NewOutboundMessage(1, FlagResponse, false)

	require.NoError(t, m.AddQuestion(Question{Name: "q.local", Type: TypePTR, Class: ClassInet}))

	for i := 0; i < 5; i++ {
		rec := Record{
			Name:  "r.local",
			Type:  TypeTXT,
			Class: ClassInet,
			TTL:   60,
			Data:  make([]byte, 600),
		}
		require.NoError(t, m.AddAnswer(rec, time.Time{}))
	}

	pkts, err := m.Packets()
	require.NoError(t, err)
	require.Greater(t, len(pkts), 1)

	// Every continuation packet re-emits the full question section.
	for _, pkt := range pkts {
		assert.Equal(t, uint16(1), binary.BigEndian.Uint16(pkt[4:6]))
	}
}

func TestNameCompressionRoundTrip(t *testing.T) {
	m := NewOutboundMessage(1, FlagResponse, false)

	require.NoError(t, m.AddAnswer(Record{
		Name: "a.b.com", Type: TypeA, Class: ClassInet, TTL: 60, Data: []byte{10, 0, 0, 1},
	}, time.Time{}))
	require.NoError(t, m.AddAnswer(Record{
		Name: "c.b.com", Type: TypeA, Class: ClassInet, TTL: 60, Data: []byte{10, 0, 0, 2},
	}, time.Time{}))

	pkts, err := m.Packets()
	require.NoError(t, err)
	require.Len(t, pkts, 1)

	pkt := pkts[0]

	// First name starts right after the header (no questions).
	name1, next, err := DecodeName(pkt, 12)
	require.NoError(t, err)
	assert.Equal(t, "a.b.com", name1)

	// Skip type, class, TTL, rdlength, rdata of the first record.
	rdlen := int(binary.BigEndian.Uint16(pkt[next+8 : next+10]))
	second := next + 10 + rdlen

	name2, _, err := DecodeName(pkt, second)
	require.NoError(t, err)
	assert.Equal(t, "c.b.com", name2)

	// The second name must be a single label plus a 2-byte pointer into
	// the first name's "b.com" suffix, not a full re-encoding.
	assert.Equal(t, byte(1), pkt[second])
	assert.Equal(t, byte('c'), pkt[second+1])
	assert.Equal(t, byte(0xC0), pkt[second+2]&0xC0)
}

func TestAddAnswerDropsExpired(t *testing.T) {
	m := NewOutboundMessage(1, FlagResponse, false)

	created := time.Now().Add(-10 * time.Minute)
	expired := Record{Name: "gone.local", Type: TypeTXT, Class: ClassInet, TTL: 60, CreatedAt: created}

	require.NoError(t, m.AddAnswer(expired, time.Now()))
	require.NoError(t, m.AddQuestion(Question{Name: "q.local", Type: TypePTR, Class: ClassInet}))

	pkts, err := m.Packets()
	require.NoError(t, err)
	require.Len(t, pkts, 1)
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(pkts[0][6:8]))
}

func TestPacketsFinishedOnce(t *testing.T) {
	m := NewOutboundMessage(1, 0, false)
	require.NoError(t, m.AddQuestion(Question{Name: "once.local", Type: TypeA, Class: ClassInet}))

	_, err := m.Packets()
	require.NoError(t, err)
	require.True(t, m.Finished())

	_, err = m.Packets()
	assert.ErrorIs(t, err, ErrMessageFinished)

	assert.ErrorIs(t, m.AddQuestion(Question{Name: "x.local"}), ErrMessageFinished)
	assert.ErrorIs(t, m.AddAnswer(Record{Name: "x.local"}, time.Time{}), ErrMessageFinished)
}

func TestWriteNameTooLong(t *testing.T) {
	m := NewOutboundMessage(1, 0, false)
	require.NoError(t, m.AddQuestion(Question{
		Name: strings.Repeat("a", 64) + ".local",
		Type: TypeA, Class: ClassInet,
	}))

	_, err := m.Packets()
	assert.ErrorIs(t, err, ErrNameTooLong)
}

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

// Package dnsmsg serializes DNS-style outbound messages into size-bounded
// packets with RFC 1035 name compression.
package dnsmsg

import (
	"encoding/binary"
	"strings"
	"time"
)

const (
	// TypicalPacketSize is the size ceiling for every record except the
	// first answer of a serialization run.
	TypicalPacketSize = 1460

	// AbsolutePacketSize is the hard ceiling the first answer may grow a
	// packet to.
	AbsolutePacketSize = 8900

	headerSize      = 12
	maxLabelSize    = 64
	pointerFlag     = 0xC000
	maxPointerValue = 0x3FFF
)

// Common record types and class.
const (
	TypeA   uint16 = 1
	TypePTR uint16 = 12
	TypeTXT uint16 = 16
	TypeSRV uint16 = 33

	ClassInet uint16 = 1

	// FlagResponse marks an authoritative response message.
	FlagResponse uint16 = 0x8400
)

// Question is one entry in the question section.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// Record is one resource record. If Target is non-empty the rdata is the
// encoded (and possibly compressed) domain name; otherwise Data is written
// verbatim.
type Record struct {
	Name      string
	Type      uint16
	Class     uint16
	TTL       uint32
	CreatedAt time.Time
	Target    string
	Data      []byte
}

// IsExpired reports whether the record's TTL has lapsed at the given time.
func (r *Record) IsExpired(at time.Time) bool {
	if at.IsZero() || r.CreatedAt.IsZero() {
		return false
	}

	return r.CreatedAt.Add(time.Duration(r.TTL) * time.Second).Before(at)
}

type answerEntry struct {
	record   Record
	expireAt time.Time
}

// OutboundMessage accumulates questions and records and serializes them
// into one or more packets. A message serializes exactly once.
type OutboundMessage struct {
	id      uint16
	flags   uint16
	unicast bool

	questions   []Question
	answers     []answerEntry
	authorities []Record
	additionals []Record

	finished bool

	// per-run serialization state
	answerOffset     int
	authorityOffset  int
	additionalOffset int
	wroteFirstAnswer bool

	buf   []byte
	names map[string]uint16
}

// NewOutboundMessage creates a message. A multicast message carries a
// zero transaction id on the wire regardless of id.
func NewOutboundMessage(id, flags uint16, unicast bool) *OutboundMessage {
	return &OutboundMessage{id: id, flags: flags, unicast: unicast}
}

func (m *OutboundMessage) AddQuestion(q Question) error {
	if m.finished {
		return ErrMessageFinished
	}

	m.questions = append(m.questions, q)

	return nil
}

// AddAnswer appends an answer record. A record already expired at
// expireAt is silently dropped; a zero expireAt disables the check.
func (m *OutboundMessage) AddAnswer(r Record, expireAt time.Time) error {
	if m.finished {
		return ErrMessageFinished
	}

	if !expireAt.IsZero() && r.IsExpired(expireAt) {
		return nil
	}

	m.answers = append(m.answers, answerEntry{record: r, expireAt: expireAt})

	return nil
}

func (m *OutboundMessage) AddAuthoritativeAnswer(r Record) error {
	if m.finished {
		return ErrMessageFinished
	}

	m.authorities = append(m.authorities, r)

	return nil
}

func (m *OutboundMessage) AddAdditionalAnswer(r Record) error {
	if m.finished {
		return ErrMessageFinished
	}

	m.additionals = append(m.additionals, r)

	return nil
}

// Finished reports whether Packets has already run.
func (m *OutboundMessage) Finished() bool {
	return m.finished
}

func (m *OutboundMessage) pending() int {
	return (len(m.answers) - m.answerOffset) +
		(len(m.authorities) - m.authorityOffset) +
		(len(m.additionals) - m.additionalOffset)
}

// Packets serializes the message. Every packet carries the full question
// section; answers, authorities and additionals are spread across packets
// as the size ceiling allows. The first answer of the run may grow its
// packet up to the absolute ceiling.
func (m *OutboundMessage) Packets() ([][]byte, error) {
	if m.finished {
		return nil, ErrMessageFinished
	}

	m.finished = true

	var packets [][]byte

	// The first pass always runs so that a question-only message still
	// produces a packet.
	for first := true; first || m.pending() > 0; first = false {
		pkt, wrote, err := m.buildPacket()
		if err != nil {
			return nil, err
		}

		packets = append(packets, pkt)

		if !first && wrote == 0 && m.pending() > 0 {
			// No record fit into a fresh packet. Stop rather than
			// spin on a record that can never be written.
			break
		}
	}

	return packets, nil
}

// buildPacket writes one packet and advances the section offsets by the
// number of records actually written.
func (m *OutboundMessage) buildPacket() ([]byte, int, error) {
	m.buf = make([]byte, headerSize, TypicalPacketSize)
	m.names = make(map[string]uint16)

	for _, q := range m.questions {
		if err := m.writeQuestion(q); err != nil {
			return nil, 0, err
		}
	}

	answers, err := m.writeRecords(m.answers[m.answerOffset:])
	if err != nil {
		return nil, 0, err
	}

	m.answerOffset += answers

	authorities, err := m.writeRecordSection(m.authorities[m.authorityOffset:])
	if err != nil {
		return nil, 0, err
	}

	m.authorityOffset += authorities

	additionals, err := m.writeRecordSection(m.additionals[m.additionalOffset:])
	if err != nil {
		return nil, 0, err
	}

	m.additionalOffset += additionals

	id := m.id
	if !m.unicast {
		id = 0
	}

	binary.BigEndian.PutUint16(m.buf[0:2], id)
	binary.BigEndian.PutUint16(m.buf[2:4], m.flags)
	binary.BigEndian.PutUint16(m.buf[4:6], uint16(len(m.questions)))
	binary.BigEndian.PutUint16(m.buf[6:8], uint16(answers))
	binary.BigEndian.PutUint16(m.buf[8:10], uint16(authorities))
	binary.BigEndian.PutUint16(m.buf[10:12], uint16(additionals))

	pkt := m.buf
	m.buf = nil
	m.names = nil

	return pkt, answers + authorities + additionals, nil
}

// writeRecords writes answer entries, allowing the first answer of the
// whole run to exceed the typical ceiling.
func (m *OutboundMessage) writeRecords(entries []answerEntry) (int, error) {
	written := 0

	for i := range entries {
		limit := TypicalPacketSize
		if !m.wroteFirstAnswer {
			limit = AbsolutePacketSize
		}

		ok, err := m.writeRecord(&entries[i].record, limit)
		if err != nil {
			return written, err
		}

		if !ok {
			break
		}

		m.wroteFirstAnswer = true
		written++
	}

	return written, nil
}

func (m *OutboundMessage) writeRecordSection(records []Record) (int, error) {
	written := 0

	for i := range records {
		ok, err := m.writeRecord(&records[i], TypicalPacketSize)
		if err != nil {
			return written, err
		}

		if !ok {
			break
		}

		written++
	}

	return written, nil
}

// writeRecord appends one record, rolling the buffer and compression
// table back if the record would push the packet past limit.
func (m *OutboundMessage) writeRecord(r *Record, limit int) (bool, error) {
	mark := len(m.buf)

	if err := m.writeName(r.Name); err != nil {
		return false, err
	}

	m.buf = binary.BigEndian.AppendUint16(m.buf, r.Type)
	m.buf = binary.BigEndian.AppendUint16(m.buf, r.Class)
	m.buf = binary.BigEndian.AppendUint32(m.buf, r.TTL)

	rdlenAt := len(m.buf)
	m.buf = append(m.buf, 0, 0)

	if r.Target != "" {
		if err := m.writeName(r.Target); err != nil {
			return false, err
		}
	} else {
		m.buf = append(m.buf, r.Data...)
	}

	binary.BigEndian.PutUint16(m.buf[rdlenAt:], uint16(len(m.buf)-rdlenAt-2))

	if len(m.buf) > limit {
		m.rollback(mark)
		return false, nil
	}

	return true, nil
}

// rollback truncates the buffer and drops compression entries that point
// into the truncated region.
func (m *OutboundMessage) rollback(mark int) {
	m.buf = m.buf[:mark]

	for suffix, off := range m.names {
		if int(off) >= mark {
			delete(m.names, suffix)
		}
	}
}

func (m *OutboundMessage) writeQuestion(q Question) error {
	if err := m.writeName(q.Name); err != nil {
		return err
	}

	m.buf = binary.BigEndian.AppendUint16(m.buf, q.Type)
	m.buf = binary.BigEndian.AppendUint16(m.buf, q.Class)

	return nil
}

// writeName writes a dotted name, reusing the longest suffix already
// present in this packet via a 2-byte pointer and registering every newly
// written suffix for later reuse.
func (m *OutboundMessage) writeName(name string) error {
	labels := splitName(name)

	// Find the longest known suffix: suffixes get shorter as the start
	// index grows, so the first hit wins.
	matched := len(labels)

	var pointer uint16

	for i := 0; i < len(labels); i++ {
		if off, ok := m.names[joinLabels(labels[i:])]; ok {
			matched = i
			pointer = off

			break
		}
	}

	offsets := make([]int, matched)

	for i := 0; i < matched; i++ {
		label := labels[i]
		if len(label) >= maxLabelSize {
			return ErrNameTooLong
		}

		offsets[i] = len(m.buf)
		m.buf = append(m.buf, byte(len(label)))
		m.buf = append(m.buf, label...)
	}

	if matched < len(labels) {
		m.buf = binary.BigEndian.AppendUint16(m.buf, pointerFlag|pointer)
	} else {
		m.buf = append(m.buf, 0)
	}

	for i := 0; i < matched; i++ {
		if offsets[i] <= maxPointerValue {
			suffix := joinLabels(labels[i:])
			if _, exists := m.names[suffix]; !exists {
				m.names[suffix] = uint16(offsets[i])
			}
		}
	}

	return nil
}

func splitName(name string) []string {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return nil
	}

	return strings.Split(name, ".")
}

func joinLabels(labels []string) string {
	return strings.Join(labels, ".")
}

// DecodeName reads a possibly compressed name starting at off and returns
// the dotted name together with the offset just past it.
func DecodeName(msg []byte, off int) (string, int, error) {
	var labels []string

	jumped := false
	next := off
	hops := 0

	for {
		if off >= len(msg) {
			return "", 0, ErrTruncatedName
		}

		b := msg[off]

		switch {
		case b == 0:
			if !jumped {
				next = off + 1
			}

			return strings.Join(labels, "."), next, nil

		case b&0xC0 == 0xC0:
			if off+1 >= len(msg) {
				return "", 0, ErrTruncatedName
			}

			if hops++; hops > len(msg) {
				return "", 0, ErrPointerLoop
			}

			ptr := int(binary.BigEndian.Uint16(msg[off:off+2]) &^ pointerFlag)

			if !jumped {
				next = off + 2
				jumped = true
			}

			off = ptr

		default:
			end := off + 1 + int(b)
			if end > len(msg) {
				return "", 0, ErrTruncatedName
			}

			labels = append(labels, string(msg[off+1:end]))
			off = end
		}
	}
}

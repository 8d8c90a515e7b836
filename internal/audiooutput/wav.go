// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audiooutput

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Format is the subset of a WAVE "fmt " chunk the engine cares about.
// Only PCM16 is accepted (AudioFormat == 1, BitsPerSample == 16).
type Format struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	BitsPerSample uint16
}

func (f Format) validate() error {
	if f.AudioFormat != 1 || f.BitsPerSample != 16 {
		return ErrUnsupportedFormat
	}
	return nil
}

type parserState int

const (
	stateHeader parserState = iota
	stateData
)

// StreamParser incrementally parses a RIFF/WAVE PCM16 stream as bytes
// arrive: it buffers until the `data` chunk offset is known, rejects
// unsupported formats and oversized headers, and resyncs on an embedded
// RIFF/WAVE magic.
type StreamParser struct {
	maxHeaderBytes int
	state          parserState
	pending        []byte
	format         *Format
}

// NewStreamParser constructs a parser that rejects headers larger than
// maxHeaderBytes (65,536 bytes by default).
func NewStreamParser(maxHeaderBytes int) *StreamParser {
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = 65536
	}
	return &StreamParser{maxHeaderBytes: maxHeaderBytes, state: stateHeader}
}

// Format returns the currently-established format, or nil before the
// first header has been fully parsed.
func (p *StreamParser) Format() *Format {
	return p.format
}

// Feed appends newly-arrived bytes and returns any newly-available PCM
// payload. A non-nil format is returned whenever the format is
// (re)established — the first time, and whenever an embedded RIFF/WAVE
// resync occurs with an unchanged channel count.
func (p *StreamParser) Feed(chunk []byte) (pcm []byte, format *Format, err error) {
	if p.state == stateData {
		return p.feedData(chunk)
	}
	return p.feedHeader(chunk)
}

func (p *StreamParser) feedHeader(chunk []byte) ([]byte, *Format, error) {
	p.pending = append(p.pending, chunk...)
	if len(p.pending) > p.maxHeaderBytes {
		return nil, nil, ErrHeaderTooLarge
	}

	format, dataStart, ok, err := parseHeader(p.pending)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, nil // need more bytes before the data chunk offset is known
	}

	p.format = format
	p.state = stateData
	pcm := p.pending[dataStart:]
	p.pending = nil
	out, resyncFormat, err := p.scanForResync(pcm)
	if resyncFormat == nil {
		resyncFormat = format
	}
	return out, resyncFormat, err
}

func (p *StreamParser) feedData(chunk []byte) ([]byte, *Format, error) {
	return p.scanForResync(chunk)
}

// scanForResync looks for an embedded "RIFF....WAVE" magic inside data
// the caller believes is plain PCM (some servers re-emit headers
// mid-stream). On a match it resets the parser state and treats
// everything from the magic onward as a fresh header.
func (p *StreamParser) scanForResync(data []byte) ([]byte, *Format, error) {
	idx := findRiffWaveMagic(data)
	if idx < 0 {
		return data, nil, nil
	}

	before := data[:idx]
	rest := data[idx:]

	format, dataStart, ok, err := parseHeader(rest)
	if err != nil {
		return before, nil, err
	}
	if !ok {
		// Not enough bytes yet to finish parsing the resynced header;
		// stash it and resume once more bytes arrive.
		p.state = stateHeader
		p.pending = append([]byte{}, rest...)
		return before, nil, nil
	}

	if p.format != nil && format.NumChannels != p.format.NumChannels {
		return before, nil, ErrChannelCountChanged
	}

	p.format = format
	p.state = stateData
	afterPCM, afterFormat, err := p.scanForResync(rest[dataStart:])
	if err != nil {
		return append(before, rest[:dataStart]...), nil, err
	}
	if afterFormat == nil {
		afterFormat = format
	}
	return append(before, afterPCM...), afterFormat, nil
}

func findRiffWaveMagic(data []byte) int {
	for search := data; ; {
		idx := bytes.Index(search, []byte("RIFF"))
		if idx < 0 {
			return -1
		}
		offset := len(data) - len(search) + idx
		if offset+12 <= len(data) && bytes.Equal(data[offset+8:offset+12], []byte("WAVE")) {
			return offset
		}
		search = search[idx+1:]
	}
}

// parseHeader parses a RIFF/WAVE header from the start of buf. ok is
// false when buf doesn't yet contain enough bytes to locate the data
// chunk's payload offset.
func parseHeader(buf []byte) (format *Format, dataStart int, ok bool, err error) {
	if len(buf) < 12 {
		return nil, 0, false, nil
	}
	if !bytes.Equal(buf[0:4], []byte("RIFF")) || !bytes.Equal(buf[8:12], []byte("WAVE")) {
		return nil, 0, false, fmt.Errorf("audiooutput: missing RIFF/WAVE magic")
	}

	offset := 12
	var fmtChunk *Format
	for offset+8 <= len(buf) {
		id := string(buf[offset : offset+4])
		size := binary.LittleEndian.Uint32(buf[offset+4 : offset+8])
		payloadStart := offset + 8

		switch id {
		case "fmt ":
			if payloadStart+16 > len(buf) {
				return nil, 0, false, nil
			}
			fmtChunk = &Format{
				AudioFormat:   binary.LittleEndian.Uint16(buf[payloadStart : payloadStart+2]),
				NumChannels:   binary.LittleEndian.Uint16(buf[payloadStart+2 : payloadStart+4]),
				SampleRate:    binary.LittleEndian.Uint32(buf[payloadStart+4 : payloadStart+8]),
				BitsPerSample: binary.LittleEndian.Uint16(buf[payloadStart+14 : payloadStart+16]),
			}
			if err := fmtChunk.validate(); err != nil {
				return nil, 0, false, err
			}
		case "data":
			if fmtChunk == nil {
				return nil, 0, false, fmt.Errorf("audiooutput: data chunk before fmt chunk")
			}
			return fmtChunk, payloadStart, true, nil
		}

		advance := int(size)
		if advance%2 == 1 {
			advance++ // chunks are word-aligned
		}
		offset = payloadStart + advance
	}
	return nil, 0, false, nil
}

// PatchFinishedBuffer fixes RIFF/data size fields in place when the
// server used placeholder sizes: bytes 4..7 and the data-chunk size are
// rewritten to the buffer's actual length.
func PatchFinishedBuffer(buf []byte) error {
	if len(buf) < 12 || !bytes.Equal(buf[0:4], []byte("RIFF")) || !bytes.Equal(buf[8:12], []byte("WAVE")) {
		return fmt.Errorf("audiooutput: missing RIFF/WAVE magic")
	}
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(buf)-8))

	offset := 12
	for offset+8 <= len(buf) {
		id := string(buf[offset : offset+4])
		size := binary.LittleEndian.Uint32(buf[offset+4 : offset+8])
		payloadStart := offset + 8
		if id == "data" {
			binary.LittleEndian.PutUint32(buf[offset+4:offset+8], uint32(len(buf)-payloadStart))
			return nil
		}
		advance := int(size)
		if advance%2 == 1 {
			advance++
		}
		offset = payloadStart + advance
	}
	return fmt.Errorf("audiooutput: missing data chunk")
}

// BuildWAVHeader constructs a RIFF/WAVE PCM16 header for dataLen bytes of
// mono or multi-channel PCM, the same manual encoding/binary construction
// the teacher's default_audio_recorder.go uses (createWAVFile).
func BuildWAVHeader(sampleRate int, numChannels int, dataLen int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	buf := new(bytes.Buffer)
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	return buf.Bytes()
}

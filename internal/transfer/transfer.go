package transfer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dreamware/graphscale/internal/message"
)

var (
	// ErrLineTooLarge means a single line cannot fit in one chunk.
	ErrLineTooLarge = errors.New("line does not fit in a single chunk")
	// ErrNoSession is returned for transfer messages with no open session.
	ErrNoSession = errors.New("no transfer session")
)

// UnexpectedChunkIndexError signals a gap or repeat in the chunk sequence.
// It is the repair trigger, converted into a MISSING_CHUNK for Expected.
type UnexpectedChunkIndexError struct {
	Got      int
	Expected int
}

func (e *UnexpectedChunkIndexError) Error() string {
	return fmt.Sprintf("unexpected chunk index %d, expected %d", e.Got, e.Expected)
}

// Slice cuts lines into FILE_CHUNK messages whose encoded envelopes stay
// within maxSize bytes.
//
// The envelope overhead is measured once per chunk and each line adds its
// exact JSON-encoded length plus a separator, so no chunk is re-encoded while
// it grows. A final encode confirms the size and backs off one line at a time
// should the estimate ever disagree.
func Slice(workerID int, fileType message.FileType, lines []string, maxSize int) ([]message.FileChunk, error) {
	var chunks []message.FileChunk
	for start := 0; start < len(lines); {
		chunk := message.FileChunk{WorkerID: workerID, FileType: fileType, Index: len(chunks), Lines: []string{}}
		size, err := encodedSize(chunk)
		if err != nil {
			return nil, err
		}
		end := start
		for end < len(lines) {
			n, err := lineSize(lines[end])
			if err != nil {
				return nil, err
			}
			if end > start {
				n++ // comma
			}
			if size+n > maxSize {
				break
			}
			size += n
			end++
		}
		for end > start {
			chunk.Lines = lines[start:end]
			if size, err = encodedSize(chunk); err != nil {
				return nil, err
			}
			if size <= maxSize {
				break
			}
			end--
		}
		if end == start {
			return nil, fmt.Errorf("line %d (%d bytes): %w", start, len(lines[start]), ErrLineTooLarge)
		}
		chunks = append(chunks, chunk)
		start = end
	}
	return chunks, nil
}

func encodedSize(m message.Message) (int, error) {
	b, err := message.Encode(m)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func lineSize(line string) (int, error) {
	b, err := json.Marshal(line)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// Sender is the sending half of one transfer session.
type Sender struct {
	chunks    []message.FileChunk
	workerID  int
	fileType  message.FileType
	cursor    int
	startSent bool
	endSent   bool
	acked     bool
}

// NewSender slices lines and prepares a session.
func NewSender(workerID int, fileType message.FileType, lines []string, maxSize int) (*Sender, error) {
	chunks, err := Slice(workerID, fileType, lines, maxSize)
	if err != nil {
		return nil, err
	}
	return &Sender{chunks: chunks, workerID: workerID, fileType: fileType}, nil
}

// Chunks returns the number of chunks in the session.
func (s *Sender) Chunks() int {
	return len(s.chunks)
}

// Next returns the next message to transmit, or false while the sender is
// waiting for the receiver's acknowledgement (or is done).
func (s *Sender) Next() (message.Message, bool) {
	switch {
	case s.acked:
		return nil, false
	case !s.startSent:
		s.startSent = true
		return message.StartSendFile{WorkerID: s.workerID, FileType: s.fileType, Chunks: len(s.chunks)}, true
	case s.cursor < len(s.chunks):
		c := s.chunks[s.cursor]
		s.cursor++
		return c, true
	case !s.endSent:
		s.endSent = true
		return message.EndSendFile{WorkerID: s.workerID, FileType: s.fileType}, true
	}
	return nil, false
}

// Missing rewinds the cursor to index and re-arms END_SEND_FILE.
func (s *Sender) Missing(index int) error {
	if index < 0 || index > len(s.chunks) {
		return fmt.Errorf("missing chunk %d of %d", index, len(s.chunks))
	}
	s.cursor = index
	s.endSent = false
	return nil
}

// Acknowledge closes the session after RECEIVED_FILE.
func (s *Sender) Acknowledge() {
	s.acked = true
}

// Done reports whether the receiver confirmed full receipt.
func (s *Sender) Done() bool {
	return s.acked
}

// Receiver is the receiving half of one transfer session.
type Receiver struct {
	lines    []string
	expected int
	next     int
}

// NewReceiver prepares to receive chunks chunks.
func NewReceiver(chunks int) *Receiver {
	return &Receiver{expected: chunks}
}

// Receive appends a chunk if it is the next one expected.
func (r *Receiver) Receive(index int, lines []string) error {
	if index != r.next {
		return &UnexpectedChunkIndexError{Got: index, Expected: r.next}
	}
	r.lines = append(r.lines, lines...)
	r.next++
	return nil
}

// End checks that every announced chunk arrived.
func (r *Receiver) End() error {
	if !r.Complete() {
		return &UnexpectedChunkIndexError{Got: r.expected, Expected: r.next}
	}
	return nil
}

// Complete reports whether all chunks arrived.
func (r *Receiver) Complete() bool {
	return r.next >= r.expected
}

// Lines returns the lines received so far.
func (r *Receiver) Lines() []string {
	return r.lines
}

package transfer

import (
	"errors"
	"fmt"

	"github.com/dreamware/graphscale/internal/message"
)

// Completed is a file whose every chunk has arrived.
type Completed struct {
	FileType message.FileType
	Lines    []string
}

// Sessions holds one sender and one receiver slot per file type for a
// single peer relationship. WorkerID is stamped on every reply.
type Sessions struct {
	WorkerID  int
	senders   [message.NumFileTypes]*Sender
	receivers [message.NumFileTypes]*Receiver
	finished  [message.NumFileTypes]bool
}

// NewSessions returns empty slots for the given worker.
func NewSessions(workerID int) *Sessions {
	return &Sessions{WorkerID: workerID}
}

// StartSend opens a sender slot. Any previous session of that type is replaced.
func (s *Sessions) StartSend(fileType message.FileType, lines []string, maxSize int) (*Sender, error) {
	if !fileType.Valid() {
		return nil, fmt.Errorf("start send: invalid file type %d", fileType)
	}
	snd, err := NewSender(s.WorkerID, fileType, lines, maxSize)
	if err != nil {
		return nil, err
	}
	s.senders[fileType] = snd
	return snd, nil
}

// Sender returns the open sender of a type, or nil.
func (s *Sessions) Sender(fileType message.FileType) *Sender {
	if !fileType.Valid() {
		return nil
	}
	return s.senders[fileType]
}

// Sending reports whether a sender of the given type is still awaiting acknowledgement.
func (s *Sessions) Sending(fileType message.FileType) bool {
	snd := s.Sender(fileType)
	return snd != nil && !snd.Done()
}

// Receiving reports whether a receiver of the given type is open.
func (s *Sessions) Receiving(fileType message.FileType) bool {
	return fileType.Valid() && s.receivers[fileType] != nil
}

// Reset drops every open session.
func (s *Sessions) Reset() {
	s.senders = [message.NumFileTypes]*Sender{}
	s.receivers = [message.NumFileTypes]*Receiver{}
	s.finished = [message.NumFileTypes]bool{}
}

// Handle applies an inbound transfer message. It returns the reply to send
// back to the peer (nil when none is due) and, once END_SEND_FILE confirms
// every chunk, the completed file. Messages that are not part of the
// transfer protocol are rejected with an error.
func (s *Sessions) Handle(m message.Message) (message.Message, *Completed, error) {
	switch msg := m.(type) {
	case message.StartSendFile:
		if !msg.FileType.Valid() {
			return nil, nil, fmt.Errorf("start send file: invalid file type %d", msg.FileType)
		}
		s.receivers[msg.FileType] = NewReceiver(msg.Chunks)
		s.finished[msg.FileType] = false
		return nil, nil, nil

	case message.FileChunk:
		r, err := s.receiver(msg.FileType)
		if err != nil {
			return nil, nil, err
		}
		if err := r.Receive(msg.Index, msg.Lines); err != nil {
			return s.missing(msg.FileType, err)
		}
		return nil, nil, nil

	case message.EndSendFile:
		if msg.FileType.Valid() && s.finished[msg.FileType] && s.receivers[msg.FileType] == nil {
			// the acknowledgement was lost; repeat it without redelivering the file
			return message.ReceivedFile{WorkerID: s.WorkerID, FileType: msg.FileType}, nil, nil
		}
		r, err := s.receiver(msg.FileType)
		if err != nil {
			return nil, nil, err
		}
		if err := r.End(); err != nil {
			return s.missing(msg.FileType, err)
		}
		s.receivers[msg.FileType] = nil
		s.finished[msg.FileType] = true
		reply := message.ReceivedFile{WorkerID: s.WorkerID, FileType: msg.FileType}
		return reply, &Completed{FileType: msg.FileType, Lines: r.Lines()}, nil

	case message.MissingChunk:
		snd := s.Sender(msg.FileType)
		if snd == nil {
			return nil, nil, fmt.Errorf("missing chunk %s: %w", msg.FileType, ErrNoSession)
		}
		return nil, nil, snd.Missing(msg.Index)

	case message.ReceivedFile:
		snd := s.Sender(msg.FileType)
		if snd == nil {
			return nil, nil, fmt.Errorf("received file %s: %w", msg.FileType, ErrNoSession)
		}
		snd.Acknowledge()
		return nil, nil, nil
	}
	return nil, nil, fmt.Errorf("not a transfer message: %s", m.Status())
}

func (s *Sessions) receiver(fileType message.FileType) (*Receiver, error) {
	if !fileType.Valid() || s.receivers[fileType] == nil {
		return nil, fmt.Errorf("receive %s: %w", fileType, ErrNoSession)
	}
	return s.receivers[fileType], nil
}

func (s *Sessions) missing(fileType message.FileType, err error) (message.Message, *Completed, error) {
	var unexpected *UnexpectedChunkIndexError
	if !errors.As(err, &unexpected) {
		return nil, nil, err
	}
	return message.MissingChunk{WorkerID: s.WorkerID, FileType: fileType, Index: unexpected.Expected}, nil, nil
}

// IsTransferMessage reports whether m belongs to the chunked transfer protocol.
func IsTransferMessage(m message.Message) bool {
	switch m.(type) {
	case message.StartSendFile, message.FileChunk, message.EndSendFile,
		message.MissingChunk, message.ReceivedFile:
		return true
	}
	return false
}

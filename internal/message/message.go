// Package message defines the wire protocol exchanged between the master and
// its workers. Every transmission carries exactly one typed message; the
// envelope records the status tag and the status-specific body.
package message

import (
	"errors"
	"fmt"

	"github.com/dreamware/graphscale/internal/partition"
)

// Status tags a message and fixes the schema of its body.
type Status int

const (
	StatusAlive Status = 200 + iota
	StatusRegister
	StatusMetaData
	StatusDebug
	StatusJobComplete
	StatusRandomWalker
	StatusFinishJob
	StatusTerminate
	StatusWorkerFailed
	StatusRandomWalkerCount
	StatusContinue
	StatusStartSendFile
	StatusFileChunk
	StatusMissingChunk
	StatusReceivedFile
	StatusEndSendFile
	StatusProgress
)

var statusNames = map[Status]string{
	StatusAlive:             "ALIVE",
	StatusRegister:          "REGISTER",
	StatusMetaData:          "META_DATA",
	StatusDebug:             "DEBUG",
	StatusJobComplete:       "JOB_COMPLETE",
	StatusRandomWalker:      "RANDOM_WALKER",
	StatusFinishJob:         "FINISH_JOB",
	StatusTerminate:         "TERMINATE",
	StatusWorkerFailed:      "WORKER_FAILED",
	StatusRandomWalkerCount: "RANDOM_WALKER_COUNT",
	StatusContinue:          "CONTINUE",
	StatusStartSendFile:     "START_SEND_FILE",
	StatusFileChunk:         "FILE_CHUNK",
	StatusMissingChunk:      "MISSING_CHUNK",
	StatusReceivedFile:      "RECEIVED_FILE",
	StatusEndSendFile:       "END_SEND_FILE",
	StatusProgress:          "PROGRESS",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

// FileType discriminates the two kinds of payload moved by chunked transfer.
type FileType int

const (
	FileGraph FileType = iota
	FileBackup
)

// NumFileTypes is the number of transfer slots each endpoint keeps per direction.
const NumFileTypes = 2

func (f FileType) String() string {
	switch f {
	case FileGraph:
		return "GRAPH"
	case FileBackup:
		return "BACKUP"
	default:
		return fmt.Sprintf("FILE(%d)", int(f))
	}
}

// Valid reports whether f names a known file type.
func (f FileType) Valid() bool {
	return f == FileGraph || f == FileBackup
}

var (
	// ErrUnknownStatus is returned by Decode for a status with no schema.
	ErrUnknownStatus = errors.New("unknown message status")
	// ErrMalformed is returned by Decode when the envelope or body cannot be parsed.
	ErrMalformed = errors.New("malformed message")
)

// Message is implemented by every wire message type.
type Message interface {
	Status() Status
}

type Alive struct {
	WorkerID int `json:"worker_id"`
}

type Register struct {
	WorkerID int    `json:"worker_id"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
}

// MetaData carries the full partition table to a worker.
type MetaData struct {
	Partitions []partition.Metadata `json:"partitions"`
}

type Debug struct {
	WorkerID int    `json:"worker_id"`
	Text     string `json:"debug_message"`
}

type JobComplete struct {
	WorkerID int `json:"worker_id"`
}

// RandomWalker hands a walker positioned on Vertex to the worker owning it.
type RandomWalker struct {
	Vertex int64 `json:"vertex"`
}

type FinishJob struct{}

type Terminate struct{}

// WorkerFailed pauses a surviving worker while the master recovers a crashed one.
type WorkerFailed struct{}

type RandomWalkerCount struct {
	WorkerID int `json:"worker_id"`
	Count    int `json:"count"`
}

type Continue struct{}

type StartSendFile struct {
	WorkerID int      `json:"worker_id"`
	FileType FileType `json:"file_type"`
	Chunks   int      `json:"chunks"`
}

type FileChunk struct {
	WorkerID int      `json:"worker_id"`
	FileType FileType `json:"file_type"`
	Index    int      `json:"index"`
	Lines    []string `json:"lines"`
}

// MissingChunk asks the sender to resume from Index, the receiver's next expected chunk.
type MissingChunk struct {
	WorkerID int      `json:"worker_id"`
	FileType FileType `json:"file_type"`
	Index    int      `json:"index"`
}

type ReceivedFile struct {
	WorkerID int      `json:"worker_id"`
	FileType FileType `json:"file_type"`
}

type EndSendFile struct {
	WorkerID int      `json:"worker_id"`
	FileType FileType `json:"file_type"`
}

// Progress reports the number of distinct edges a worker has produced so far.
type Progress struct {
	WorkerID int `json:"worker_id"`
	Edges    int `json:"edges"`
}

func (Alive) Status() Status             { return StatusAlive }
func (Register) Status() Status          { return StatusRegister }
func (MetaData) Status() Status          { return StatusMetaData }
func (Debug) Status() Status             { return StatusDebug }
func (JobComplete) Status() Status       { return StatusJobComplete }
func (RandomWalker) Status() Status      { return StatusRandomWalker }
func (FinishJob) Status() Status         { return StatusFinishJob }
func (Terminate) Status() Status         { return StatusTerminate }
func (WorkerFailed) Status() Status      { return StatusWorkerFailed }
func (RandomWalkerCount) Status() Status { return StatusRandomWalkerCount }
func (Continue) Status() Status          { return StatusContinue }
func (StartSendFile) Status() Status     { return StatusStartSendFile }
func (FileChunk) Status() Status         { return StatusFileChunk }
func (MissingChunk) Status() Status      { return StatusMissingChunk }
func (ReceivedFile) Status() Status      { return StatusReceivedFile }
func (EndSendFile) Status() Status       { return StatusEndSendFile }
func (Progress) Status() Status          { return StatusProgress }

package message

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Status Status          `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// unpackers maps each status to the function that decodes its body.
var unpackers = map[Status]func(json.RawMessage) (Message, error){
	StatusAlive:             unpack[Alive],
	StatusRegister:          unpack[Register],
	StatusMetaData:          unpack[MetaData],
	StatusDebug:             unpack[Debug],
	StatusJobComplete:       unpack[JobComplete],
	StatusRandomWalker:      unpack[RandomWalker],
	StatusFinishJob:         unpack[FinishJob],
	StatusTerminate:         unpack[Terminate],
	StatusWorkerFailed:      unpack[WorkerFailed],
	StatusRandomWalkerCount: unpack[RandomWalkerCount],
	StatusContinue:          unpack[Continue],
	StatusStartSendFile:     unpack[StartSendFile],
	StatusFileChunk:         unpack[FileChunk],
	StatusMissingChunk:      unpack[MissingChunk],
	StatusReceivedFile:      unpack[ReceivedFile],
	StatusEndSendFile:       unpack[EndSendFile],
	StatusProgress:          unpack[Progress],
}

// Encode serializes m into its wire envelope.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("encode: nil message")
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Status(), err)
	}
	return json.Marshal(envelope{Status: m.Status(), Body: body})
}

// MustEncode is Encode for messages whose bodies cannot fail to marshal.
func MustEncode(m Message) []byte {
	b, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses a wire envelope and returns the typed message for its status.
// Callers switch on the concrete type of the result.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	fn, ok := unpackers[env.Status]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, int(env.Status))
	}
	return fn(env.Body)
}

func unpack[T Message](body json.RawMessage) (Message, error) {
	var m T
	if len(body) == 0 || string(body) == "null" {
		return m, nil
	}
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: %s body: %v", ErrMalformed, m.Status(), err)
	}
	return m, nil
}

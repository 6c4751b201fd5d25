package wsecho

// Effect is something the Machine needs done after a call to Feed.
// Effects must be applied in the order they are returned.
//
// The implementations are Write, Message and Terminate.
type Effect interface {
	effect()
}

// Write asks for Frame to be written to the transport as is.
type Write struct {
	Frame []byte
	// Close is set when Frame is a close frame.
	Close bool
}

// Message reports a complete, reassembled message. It is always
// followed by the Write that echoes it.
type Message struct {
	Payload []byte
	// Frames is the number of frames the message arrived in.
	Frames int
}

// Terminate asks for the transport to be closed. No further
// effects follow it.
type Terminate struct {
	// Close is the close frame that ended the connection.
	// If Peer is set it was received from the client, otherwise
	// it is the one the server sent when it failed the connection.
	Close CloseError
	Peer  bool
}

func (Write) effect()     {}
func (Message) effect()   {}
func (Terminate) effect() {}

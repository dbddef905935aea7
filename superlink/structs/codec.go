// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

// CreateReply builds the reply skeleton for a received message: source and
// destination flip, and the reply references the original message id.
func (m *Message) CreateReply(content []byte) *Message {
	return &Message{
		Metadata: Metadata{
			RunID:          m.Metadata.RunID,
			SrcNodeID:      m.Metadata.DstNodeID,
			DstNodeID:      m.Metadata.SrcNodeID,
			ReplyToMessage: m.Metadata.MessageID,
			GroupID:        m.Metadata.GroupID,
			TTL:            m.Metadata.TTL,
			MessageType:    m.Metadata.MessageType,
			CreatedAt:      m.Metadata.CreatedAt,
		},
		Content: content,
	}
}

// CreateErrorReply is CreateReply for a failed exchange.
func (m *Message) CreateErrorReply(rec *ErrorRecord) *Message {
	reply := m.CreateReply(nil)
	reply.Error = rec
	return reply
}

// TaskInsToMessage converts a pulled instruction into the application
// message handed to the workload. The store task id doubles as the wire
// message id.
func TaskInsToMessage(ins *TaskIns) *Message {
	return &Message{
		Metadata: Metadata{
			RunID:       ins.RunID,
			MessageID:   ins.TaskID,
			SrcNodeID:   ins.Producer.NodeID,
			DstNodeID:   ins.Consumer.NodeID,
			GroupID:     ins.GroupID,
			TTL:         ins.TTL,
			MessageType: ins.TaskType,
			CreatedAt:   ins.CreatedAt,
		},
		Content: ins.RecordSet,
	}
}

// MessageToTaskRes converts a reply message into the result row pushed
// back to the server. An error reply encodes its record into the
// recordset and is marked TaskTypeError.
func MessageToTaskRes(m *Message) (*TaskRes, error) {
	res := &TaskRes{
		GroupID: m.Metadata.GroupID,
		RunID:   m.Metadata.RunID,
		Producer: NodeRef{
			NodeID:    m.Metadata.SrcNodeID,
			Anonymous: m.Metadata.SrcNodeID == 0,
		},
		Consumer: NodeRef{
			NodeID:    m.Metadata.DstNodeID,
			Anonymous: m.Metadata.DstNodeID == 0,
		},
		CreatedAt: m.Metadata.CreatedAt,
		TTL:       m.Metadata.TTL,
		Ancestry:  []string{m.Metadata.ReplyToMessage},
		TaskType:  m.Metadata.MessageType,
		RecordSet: m.Content,
	}
	if m.HasError() {
		blob, err := m.Error.Encode()
		if err != nil {
			return nil, err
		}
		res.TaskType = TaskTypeError
		res.RecordSet = blob
	}
	return res, nil
}

// TaskResToMessage converts a pulled result back into a message, the
// inverse of MessageToTaskRes as seen by a driver.
func TaskResToMessage(res *TaskRes) (*Message, error) {
	m := &Message{
		Metadata: Metadata{
			RunID:          res.RunID,
			MessageID:      res.TaskID,
			SrcNodeID:      res.Producer.NodeID,
			DstNodeID:      res.Consumer.NodeID,
			ReplyToMessage: res.AncestorID(),
			GroupID:        res.GroupID,
			TTL:            res.TTL,
			MessageType:    res.TaskType,
			CreatedAt:      res.CreatedAt,
		},
	}
	if res.TaskType == TaskTypeError {
		rec, err := DecodeErrorRecord(res.RecordSet)
		if err != nil {
			return nil, err
		}
		m.Error = rec
	} else {
		m.Content = res.RecordSet
	}
	return m, nil
}

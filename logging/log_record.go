package logging

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"mit.edu/dsg/simpledb/common"
)

// On-disk record types. Every record is framed as
// <type:i32> <tid:i64> <payload> <start_offset:i64>, big-endian throughout;
// the trailing start offset is the back-pointer that makes reverse traversal
// possible. CHECKPOINT records carry tid -1.
type LogRecordType int32

const (
	AbortRecord LogRecordType = iota + 1
	CommitRecord
	UpdateRecord
	BeginRecord
	CheckpointRecord
)

func (t LogRecordType) String() string {
	switch t {
	case AbortRecord:
		return "ABORT"
	case CommitRecord:
		return "COMMIT"
	case UpdateRecord:
		return "UPDATE"
	case BeginRecord:
		return "BEGIN"
	case CheckpointRecord:
		return "CHECKPOINT"
	}
	return "UNKNOWN"
}

// NoCheckpoint is the header sentinel for a log that has never been
// checkpointed.
const NoCheckpoint int64 = -1

// logHeaderSize is the 8-byte checkpoint-offset header at the front of the
// log file.
const logHeaderSize int64 = 8

// checkpointTID fills the tid slot of CHECKPOINT records, which belong to no
// transaction.
const checkpointTID int64 = -1

// PageImage is the serialized form of a page inside an UPDATE record, framed
// with the class tags recovery needs to reconstruct the concrete page and id
// variants: <page_class:utf8> <id_class:utf8> <id_arg_count:i32>
// <id_args:i32[]> <data_len:i32> <data>.
type PageImage struct {
	PageClass string
	IDClass   string
	IDArgs    []int32
	Data      []byte
}

// PageID recovers the page id encoded in the image's arguments.
func (img *PageImage) PageID() (common.PageID, error) {
	return common.LoadPageID(img.IDArgs)
}

func (img *PageImage) encodeTo(buf *bytes.Buffer) {
	writeString(buf, img.PageClass)
	writeString(buf, img.IDClass)
	binary.Write(buf, binary.BigEndian, int32(len(img.IDArgs)))
	for _, a := range img.IDArgs {
		binary.Write(buf, binary.BigEndian, a)
	}
	binary.Write(buf, binary.BigEndian, int32(len(img.Data)))
	buf.Write(img.Data)
}

// Strings are framed as <len:u16><bytes>; class tags are short ASCII.
func writeString(buf *bytes.Buffer, s string) {
	common.Assert(len(s) <= 1<<16-1, "string too long for log framing")
	binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

// logReader walks the log file at explicit offsets, so concurrent appenders
// never fight over a shared file position.
type logReader struct {
	f   *os.File
	off int64
}

func (r *logReader) readBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := r.f.ReadAt(buf, r.off); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	r.off += int64(n)
	return buf, nil
}

func (r *logReader) readInt32() (int32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *logReader) readInt64() (int64, error) {
	b, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *logReader) readString() (string, error) {
	b, err := r.readBytes(2)
	if err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint16(b))
	s, err := r.readBytes(n)
	if err != nil {
		return "", err
	}
	return string(s), nil
}

func (r *logReader) readImage() (*PageImage, error) {
	pageClass, err := r.readString()
	if err != nil {
		return nil, err
	}
	idClass, err := r.readString()
	if err != nil {
		return nil, err
	}
	argCount, err := r.readInt32()
	if err != nil {
		return nil, err
	}
	if argCount < 0 || argCount > 16 {
		return nil, common.DBError{Code: common.LogError, ErrString: fmt.Sprintf("implausible id arg count %d in page image", argCount)}
	}
	args := make([]int32, argCount)
	for i := range args {
		if args[i], err = r.readInt32(); err != nil {
			return nil, err
		}
	}
	dataLen, err := r.readInt32()
	if err != nil {
		return nil, err
	}
	if dataLen < 0 {
		return nil, common.DBError{Code: common.LogError, ErrString: "negative page data length"}
	}
	data, err := r.readBytes(int(dataLen))
	if err != nil {
		return nil, err
	}
	return &PageImage{PageClass: pageClass, IDClass: idClass, IDArgs: args, Data: data}, nil
}

package persist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
)

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeByte(buf *bytes.Buffer, b byte) {
	buf.WriteByte(b)
}

func readByte(r *bytes.Reader) (byte, error) {
	return r.ReadByte()
}

func readFixed(r *bytes.Reader, b []byte) error {
	_, err := io.ReadFull(r, b)
	return err
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint64(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint64(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if err := readFixed(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBigInt(buf *bytes.Buffer, n *big.Int) {
	b := n.Bytes()
	writeByte(buf, byte(n.Sign()+1)) // 0 = negative, 1 = zero, 2 = positive
	writeUint64(buf, uint64(len(b)))
	buf.Write(b)
}

func readBigInt(r *bytes.Reader) (*big.Int, error) {
	sign, err := readByte(r)
	if err != nil {
		return nil, err
	}
	n, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if err := readFixed(r, b); err != nil {
		return nil, err
	}
	v := new(big.Int).SetBytes(b)
	if sign == 0 {
		v.Neg(v)
	}
	return v, nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint64(buf, uint64(len(b)))
	buf.Write(b)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if err := readFixed(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func errUnknownTag(kind string, tag byte) error {
	return fmt.Errorf("persist: unknown %s tag %d", kind, tag)
}

package credstore

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"

	"autovolume-go/errcode"
)

// BlockDevice is the flash data region. machine.Flash satisfies it.
type BlockDevice interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	WriteBlockSize() int64
	EraseBlockSize() int64
	EraseBlocks(start, length int64) error
}

// Flash keeps the document in two erase blocks used alternately. Each slot
// holds magic, sequence, length and CRC32 followed by a JSON object. Save
// writes the slot not holding the current document, so an interrupted save
// leaves the previous one readable.
type Flash struct {
	dev BlockDevice
}

var flashMagic = [4]byte{'A', 'V', 'C', '2'}

const (
	flashHdr   = 16
	flashSlots = 2
)

func NewFlash(dev BlockDevice) *Flash { return &Flash{dev: dev} }

type slotHeader struct {
	seq uint32
	n   uint32
	sum uint32
}

// readSlot returns the body of slot i and whether it is intact.
func (f *Flash) readSlot(i int) (slotHeader, []byte, bool, error) {
	blk := f.dev.EraseBlockSize()
	off := int64(i) * blk
	var hdr [flashHdr]byte
	if _, err := f.dev.ReadAt(hdr[:], off); err != nil {
		return slotHeader{}, nil, false, err
	}
	if [4]byte(hdr[:4]) != flashMagic {
		return slotHeader{}, nil, false, nil
	}
	h := slotHeader{
		seq: binary.LittleEndian.Uint32(hdr[4:8]),
		n:   binary.LittleEndian.Uint32(hdr[8:12]),
		sum: binary.LittleEndian.Uint32(hdr[12:16]),
	}
	if int64(h.n)+flashHdr > blk {
		return h, nil, false, nil
	}
	body := make([]byte, h.n)
	if _, err := f.dev.ReadAt(body, off+flashHdr); err != nil {
		return h, nil, false, err
	}
	if slotSum(hdr[4:12], body) != h.sum {
		return h, nil, false, nil
	}
	return h, body, true, nil
}

func slotSum(seqLen, body []byte) uint32 {
	return crc32.Update(crc32.ChecksumIEEE(seqLen), crc32.IEEETable, body)
}

// current finds the newest intact slot; ok is false on a blank device.
func (f *Flash) current() (slot int, h slotHeader, body []byte, ok bool, err error) {
	for i := 0; i < flashSlots; i++ {
		sh, b, good, rerr := f.readSlot(i)
		if rerr != nil {
			return 0, slotHeader{}, nil, false, rerr
		}
		if !good {
			continue
		}
		// Sequence comparison tolerates wraparound.
		if !ok || int32(sh.seq-h.seq) > 0 {
			slot, h, body, ok = i, sh, b, true
		}
	}
	return slot, h, body, ok, nil
}

func (f *Flash) Load() (map[string]string, error) {
	_, _, body, ok, err := f.current()
	if err != nil {
		return nil, err
	}
	doc := map[string]string{}
	if !ok {
		return doc, nil
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (f *Flash) Save(doc map[string]string) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	blk := f.dev.EraseBlockSize()
	if int64(len(body))+flashHdr > blk {
		return errcode.New(errcode.StoreFailed, "credstore.flash", "document exceeds flash block")
	}
	slot, h, _, ok, err := f.current()
	if err != nil {
		return err
	}
	next, seq := 0, uint32(1)
	if ok {
		next, seq = (slot+1)%flashSlots, h.seq+1
	}

	wbs := f.dev.WriteBlockSize()
	total := int64(len(body)) + flashHdr
	if r := total % wbs; r != 0 {
		total += wbs - r
	}
	buf := make([]byte, total)
	copy(buf[:4], flashMagic[:])
	binary.LittleEndian.PutUint32(buf[4:8], seq)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(body)))
	binary.LittleEndian.PutUint32(buf[12:16], slotSum(buf[4:12], body))
	copy(buf[flashHdr:], body)

	if err := f.dev.EraseBlocks(int64(next), 1); err != nil {
		return err
	}
	_, err = f.dev.WriteAt(buf, int64(next)*blk)
	return err
}

// Package sf2test builds small SoundFont files for tests
package sf2test

import (
	"bytes"
	"encoding/binary"
)

// SoundFont generator operators
const (
	genInstrument = 41
	genSampleID   = 53
)

// WaveLength is the number of sample points in the single shared sample
const WaveLength = 256

// Preset is a bank/patch entry whose zones point at instrument indices
type Preset struct {
	Name        string
	Bank        int
	Patch       int
	Instruments []int
}

var le = binary.LittleEndian

func chunk(id string, data []byte) []byte {
	var b bytes.Buffer
	b.WriteString(id)
	b.Write(le.AppendUint32(nil, uint32(len(data))))
	b.Write(data)
	return b.Bytes()
}

// zstr is a NUL terminated string padded to an even length
func zstr(s string) []byte {
	b := append([]byte(s), 0)
	if len(b)%2 == 1 {
		b = append(b, 0)
	}
	return b
}

func list(form string, chunks ...[]byte) []byte {
	data := []byte(form)
	for _, c := range chunks {
		data = append(data, c...)
	}
	return chunk("LIST", data)
}

// name20 is the fixed-width, NUL padded name field of the hydra records
func name20(s string) []byte {
	b := make([]byte, 20)
	copy(b, s)
	return b
}

func bag(gen int) []byte {
	b := le.AppendUint16(nil, uint16(gen))
	return le.AppendUint16(b, 0)
}

func gen(op, amount int) []byte {
	b := le.AppendUint16(nil, uint16(op))
	return le.AppendUint16(b, uint16(int16(amount)))
}

// wave is a looping square wave so the synth produces audible output
func wave() []byte {
	var b []byte
	for i := 0; i < WaveLength; i++ {
		v := int16(8000)
		if (i/16)%2 == 1 {
			v = -8000
		}
		b = le.AppendUint16(b, uint16(v))
	}
	return b
}

func sampleHeader(name string, start, end, startLoop, endLoop, rate uint32, pitch byte, kind uint16) []byte {
	b := name20(name)
	for _, v := range []uint32{start, end, startLoop, endLoop, rate} {
		b = le.AppendUint32(b, v)
	}
	b = append(b, pitch, 0)
	b = le.AppendUint16(b, 0)
	return le.AppendUint16(b, kind)
}

// Build returns an sfbk RIFF holding one sample, one single-zone instrument
// per name, and the presets in the given order.
func Build(bankName string, instruments []string, presets []Preset) []byte {
	info := list("INFO",
		chunk("ifil", []byte{2, 0, 1, 0}),
		chunk("INAM", zstr(bankName)),
	)

	sdta := list("sdta", chunk("smpl", wave()))

	var phdr, pbag, pgen []byte
	zones, gens := 0, 0
	for _, p := range presets {
		phdr = append(phdr, name20(p.Name)...)
		phdr = le.AppendUint16(phdr, uint16(p.Patch))
		phdr = le.AppendUint16(phdr, uint16(p.Bank))
		phdr = le.AppendUint16(phdr, uint16(zones))
		phdr = append(phdr, make([]byte, 12)...)
		for _, inst := range p.Instruments {
			pbag = append(pbag, bag(gens)...)
			pgen = append(pgen, gen(genInstrument, inst)...)
			zones++
			gens++
		}
	}
	phdr = append(phdr, name20("EOP")...)
	phdr = le.AppendUint16(phdr, 0)
	phdr = le.AppendUint16(phdr, 0)
	phdr = le.AppendUint16(phdr, uint16(zones))
	phdr = append(phdr, make([]byte, 12)...)
	pbag = append(pbag, bag(gens)...)
	pgen = append(pgen, gen(0, 0)...)

	var inst, ibag, igen []byte
	for i, name := range instruments {
		inst = append(inst, name20(name)...)
		inst = le.AppendUint16(inst, uint16(i))
		ibag = append(ibag, bag(i)...)
		igen = append(igen, gen(genSampleID, 0)...)
	}
	inst = append(inst, name20("EOI")...)
	inst = le.AppendUint16(inst, uint16(len(instruments)))
	ibag = append(ibag, bag(len(instruments))...)
	igen = append(igen, gen(0, 0)...)

	shdr := sampleHeader("Square", 0, 224, 16, 208, 22050, 60, 1)
	shdr = append(shdr, sampleHeader("EOS", 0, 0, 0, 0, 0, 0, 0)...)

	pdta := list("pdta",
		chunk("phdr", phdr),
		chunk("pbag", pbag),
		chunk("pmod", make([]byte, 10)),
		chunk("pgen", pgen),
		chunk("inst", inst),
		chunk("ibag", ibag),
		chunk("imod", make([]byte, 10)),
		chunk("igen", igen),
		chunk("shdr", shdr),
	)

	body := append([]byte("sfbk"), info...)
	body = append(body, sdta...)
	body = append(body, pdta...)
	return chunk("RIFF", body)
}

// Default is a small bank with presets stored out of bank/patch order and a
// preset whose zones reference instruments 1 then 0.
func Default() []byte {
	return Build("  Test Bank ", []string{"Piano Inst", "Strings Inst"}, []Preset{
		{Name: " Strings ", Bank: 0, Patch: 48, Instruments: []int{1, 0}},
		{Name: "Kit", Bank: 128, Patch: 0, Instruments: []int{1}},
		{Name: "Piano", Bank: 0, Patch: 0, Instruments: []int{0}},
	})
}

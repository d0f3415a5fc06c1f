package reminder

import (
	"math/rand/v2"
	"strings"
)

// Template is a catalog entry. Body contains the {name} placeholder.
type Template struct {
	Title string
	Body  string
}

const namePlaceholder = "{name}"

var catalog = []Template{
	{Title: "Waduh 😭", Body: "Dompet {name} nangis diem-diem nih. Catet pengeluaran dulu yuk biar ga boncos!"},
	{Title: "Pov: Lagi Healing 🗿", Body: "{name} jangan ghosting duit sendiri dong! Yuk catet pengeluaran hari ini."},
	{Title: "Jujurly... 🤔", Body: "{name}, hari ini jajan apa aja? Spill di sini biar keuangan tetep slay!"},
	{Title: "Info Penting 👻", Body: "Duit {name} ga bakal ilang kok, tapi kalo ga dicatet jadi misteri ilahi. Yuk catet!"},
	{Title: "Lho Belum Absen? 😮‍💨", Body: "Yaaaah {name} belum absen duit hari ini. Gas tipis-tipis catet pengeluaran bentar!"},
	{Title: "Reminder Kece ⚡", Body: "Halo {name} yang kece badai! Jangan lupa catet duitnya biar ga tantrum akhir bulan."},
	{Title: "Misi Paket! 📦", Body: "Ada tanggungan catet duit buat {name} nih. Yuk unboxing aplikasinya bentar."},
	{Title: "Cek Khodam 🐍", Body: "{name}! Khodam keuangannya bilang harus catet pengeluaran sekarang juga!"},
	{Title: "Ga Bahaya Ta? 🥶", Body: "Ga bahaya ta kalo {name} lupa catet duit? Mending catet sekarang biar tidur nyenyak."},
	{Title: "Manifesting Kaya ✨", Body: "Manifesting keuangan sehat buat {name}. Tapi usaha dikit dong, catet pengeluaran hari ini ya!"},
}

// Composer picks a template uniformly at random and fills in the name.
type Composer struct {
	templates []Template
	pick      func(n int) int
}

// NewComposer returns a Composer over the built-in catalog. pick must return
// a value in [0, n); nil uses math/rand/v2.
func NewComposer(pick func(n int) int) *Composer {
	if pick == nil {
		pick = rand.IntN
	}
	return &Composer{templates: catalog, pick: pick}
}

// Compose builds the message for name.
func (c *Composer) Compose(name string) Message {
	t := c.templates[c.pick(len(c.templates))]
	return Message{
		Title: t.Title,
		Body:  strings.ReplaceAll(t.Body, namePlaceholder, name),
	}
}

// FirstName returns the first word of fullName, or fallback if there is none.
func FirstName(fullName, fallback string) string {
	if fields := strings.Fields(fullName); len(fields) > 0 {
		return fields[0]
	}
	if fallback == "" {
		return DefaultFallbackName
	}
	return fallback
}

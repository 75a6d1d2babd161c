package semilla

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

const (
	TaxonomyActiva    = "activo"
	TaxonomyEliminada = "eliminado"
)

var (
	ErrTaxonomyExists   = errors.New("semilla: taxonomia ya seleccionada")
	ErrTaxonomyNotFound = errors.New("semilla: taxonomia no encontrada")
	ErrSectionEvidence  = errors.New("semilla: la seccion no admite evidencias")
)

// AddTaxonomy selects a catalog entry. Re-selecting an active taxonomy
// is rejected; the global counter keeps growing across removals so a
// numero_orden is never reused.
func (d *Document) AddTaxonomy(taxonomiaID, justificacion, descripcionProblema string, now time.Time) (*TaxonomyEntry, error) {
	set := &d.Taxonomias.Taxonomias
	for i := range set.Seleccionadas {
		if set.Seleccionadas[i].TaxonomiaID == taxonomiaID && set.Seleccionadas[i].Estado == TaxonomyActiva {
			return nil, ErrTaxonomyExists
		}
	}
	set.ContadorGlobal++
	stamp := isoStamp(now)
	entry := TaxonomyEntry{
		IDUnico:             uuid.Must(uuid.NewV4()).String(),
		TaxonomiaID:         taxonomiaID,
		NumeroOrden:         set.ContadorGlobal,
		Estado:              TaxonomyActiva,
		Version:             1,
		FechaAsignacion:     stamp,
		Justificacion:       justificacion,
		DescripcionProblema: descripcionProblema,
		Evidencias:          emptyEvidence(),
	}
	set.Seleccionadas = append(set.Seleccionadas, entry)
	set.HistorialCambios = append(set.HistorialCambios, TaxonomyChange{
		Timestamp:   stamp,
		Accion:      "agregar_taxonomia",
		TaxonomiaID: taxonomiaID,
		NumeroOrden: entry.NumeroOrden,
	})
	set.UltimoCambio = stamp
	d.Touch(now)
	return &set.Seleccionadas[len(set.Seleccionadas)-1], nil
}

// RemoveTaxonomy is a soft removal: the entry stays with its evidence
// trail, marked eliminado.
func (d *Document) RemoveTaxonomy(idUnico string, now time.Time) error {
	set := &d.Taxonomias.Taxonomias
	for i := range set.Seleccionadas {
		entry := &set.Seleccionadas[i]
		if entry.IDUnico != idUnico || entry.Estado != TaxonomyActiva {
			continue
		}
		stamp := isoStamp(now)
		entry.Estado = TaxonomyEliminada
		entry.FechaEliminacion = stamp
		set.HistorialCambios = append(set.HistorialCambios, TaxonomyChange{
			Timestamp:   stamp,
			Accion:      "eliminar_taxonomia",
			TaxonomiaID: entry.TaxonomiaID,
			NumeroOrden: entry.NumeroOrden,
		})
		set.UltimoCambio = stamp
		d.Touch(now)
		return nil
	}
	return ErrTaxonomyNotFound
}

// FindTaxonomy returns the active entry with that id_unico.
func (d *Document) FindTaxonomy(idUnico string) *TaxonomyEntry {
	set := &d.Taxonomias.Taxonomias
	for i := range set.Seleccionadas {
		if set.Seleccionadas[i].IDUnico == idUnico && set.Seleccionadas[i].Estado == TaxonomyActiva {
			return &set.Seleccionadas[i]
		}
	}
	return nil
}

// FindTaxonomyByCatalogID returns the active entry for a catalog id.
func (d *Document) FindTaxonomyByCatalogID(taxonomiaID string) *TaxonomyEntry {
	set := &d.Taxonomias.Taxonomias
	for i := range set.Seleccionadas {
		if set.Seleccionadas[i].TaxonomiaID == taxonomiaID && set.Seleccionadas[i].Estado == TaxonomyActiva {
			return &set.Seleccionadas[i]
		}
	}
	return nil
}

// ActiveTaxonomies lists selections still in force, in selection order.
func (d *Document) ActiveTaxonomies() []TaxonomyEntry {
	var res []TaxonomyEntry
	for _, entry := range d.Taxonomias.Taxonomias.Seleccionadas {
		if entry.Estado == TaxonomyActiva {
			res = append(res, entry)
		}
	}
	return res
}

// EvidenceFile carries the vault metadata recorded into the document.
type EvidenceFile struct {
	Nombre    string
	Archivo   string
	Sha256    string
	TamanoKB  int64
	TipoMime  string
	SubidoPor string
}

// Sections that carry evidence lists and their number prefixes.
var sectionEvidencePrefix = map[string]string{
	"2": "2.5",
	"3": "3.4",
	"5": "5.2",
	"6": "6.4",
}

// EvidenceGroup maps a section to the number prefix new uploads get.
func EvidenceGroup(seccion string) (string, bool) {
	prefix, ok := sectionEvidencePrefix[seccion]
	return prefix, ok
}

// PutSectionEvidence records a file under a número assigned outside the
// document, typically by the vault's transactional counter. The section
// counter advances past it so document-side numbering never collides.
func (d *Document) PutSectionEvidence(seccion, numero string, file EvidenceFile, now time.Time) error {
	list := d.sectionEvidence(seccion)
	if list == nil {
		return ErrSectionEvidence
	}
	list.Items = append(list.Items, newEvidenceItem(numero, file, now))
	if n := trailingIndex(numero); n > list.Contador {
		list.Contador = n
	}
	d.Touch(now)
	return nil
}

// PutTaxonomyEvidence is PutSectionEvidence for an active taxonomy entry.
func (d *Document) PutTaxonomyEvidence(idUnico, numero string, file EvidenceFile, now time.Time) error {
	entry := d.FindTaxonomy(idUnico)
	if entry == nil {
		return ErrTaxonomyNotFound
	}
	entry.Evidencias.Items = append(entry.Evidencias.Items, newEvidenceItem(numero, file, now))
	if n := trailingIndex(numero); n > entry.Evidencias.Contador {
		entry.Evidencias.Contador = n
	}
	entry.Version++
	d.Touch(now)
	return nil
}

// MarkEvidenceEstado flips the estado of the item with that number,
// wherever it lives (section list or taxonomy entry). Returns false
// when no item carries the number.
func (d *Document) MarkEvidenceEstado(numero, estado string, now time.Time) bool {
	item := d.findEvidenceItem(numero)
	if item == nil {
		return false
	}
	item.Estado = estado
	d.Touch(now)
	return true
}

// UpdateEvidenceFile swaps the stored file behind an existing número,
// keeping the number and bumping the item version.
func (d *Document) UpdateEvidenceFile(numero string, file EvidenceFile, now time.Time) bool {
	item := d.findEvidenceItem(numero)
	if item == nil {
		return false
	}
	item.Archivo = file.Archivo
	item.Nombre = file.Nombre
	item.Sha256 = file.Sha256
	item.TamanoKB = file.TamanoKB
	item.TipoMime = file.TipoMime
	item.SubidoPor = file.SubidoPor
	item.FechaSubida = isoStamp(now)
	if file.Sha256 != "" {
		item.Estado = "verificado"
	}
	item.Version++
	d.Touch(now)
	return true
}

func (d *Document) findEvidenceItem(numero string) *EvidenceItem {
	for _, seccion := range []string{"2", "3", "5", "6"} {
		list := d.sectionEvidence(seccion)
		for i := range list.Items {
			if list.Items[i].Numero == numero {
				return &list.Items[i]
			}
		}
	}
	set := &d.Taxonomias.Taxonomias
	for i := range set.Seleccionadas {
		items := set.Seleccionadas[i].Evidencias.Items
		for j := range items {
			if items[j].Numero == numero {
				return &items[j]
			}
		}
	}
	return nil
}

func trailingIndex(numero string) int {
	i := strings.LastIndexByte(numero, '.')
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(numero[i+1:])
	if err != nil {
		return 0
	}
	return n
}

func (d *Document) sectionEvidence(seccion string) *EvidenceList {
	switch seccion {
	case "2":
		return &d.Identificacion.Evidencias
	case "3":
		return &d.Impacto.Evidencias
	case "5":
		return &d.Respuesta.Evidencias
	case "6":
		return &d.CausaRaiz.Evidencias
	}
	return nil
}

func newEvidenceItem(numero string, file EvidenceFile, now time.Time) EvidenceItem {
	estado := "pendiente"
	if file.Sha256 != "" {
		estado = "verificado"
	}
	return EvidenceItem{
		Numero:      numero,
		Archivo:     file.Archivo,
		Nombre:      file.Nombre,
		Sha256:      file.Sha256,
		TamanoKB:    file.TamanoKB,
		TipoMime:    file.TipoMime,
		FechaSubida: isoStamp(now),
		SubidoPor:   file.SubidoPor,
		Estado:      estado,
		Version:     1,
	}
}

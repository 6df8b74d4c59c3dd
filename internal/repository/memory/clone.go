package memory

import (
	"time"

	"github.com/lib/pq"

	"stockipv/server/internal/models"
)

func same[T any](v T) T { return v }

func strPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func timePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStrings(a pq.StringArray) pq.StringArray {
	if a == nil {
		return nil
	}
	return append(pq.StringArray(nil), a...)
}

func cloneProduct(p models.Product) models.Product {
	p.ElaborationLocID = strPtr(p.ElaborationLocID)
	p.WorkplaceIDs = cloneStrings(p.WorkplaceIDs)
	return p
}

func cloneLocation(l models.Location) models.Location {
	l.ParentID = strPtr(l.ParentID)
	l.ProductID = strPtr(l.ProductID)
	return l
}

// cloneBOM строки хранятся в отдельной таблице
func cloneBOM(b models.BOM) models.BOM {
	b.Lines = nil
	return b
}

func cloneMove(m models.StockMove) models.StockMove {
	m.IPVID = strPtr(m.IPVID)
	m.IPVLineID = strPtr(m.IPVLineID)
	m.PickingID = strPtr(m.PickingID)
	m.DateDone = timePtr(m.DateDone)
	return m
}

func clonePicking(p models.Picking) models.Picking {
	p.IPVID = strPtr(p.IPVID)
	p.DateDone = timePtr(p.DateDone)
	return p
}

func cloneWorkplace(w models.Workplace) models.Workplace {
	w.ProductIDs = cloneStrings(w.ProductIDs)
	return w
}

func cloneIPV(i models.IPV) models.IPV {
	i.WorkplaceID = strPtr(i.WorkplaceID)
	i.PickingID = strPtr(i.PickingID)
	i.DateOpen = timePtr(i.DateOpen)
	i.DateClose = timePtr(i.DateClose)
	i.Lines = nil
	return i
}

func cloneLine(l models.IPVLine) models.IPVLine {
	l.ParentID = strPtr(l.ParentID)
	l.ParentIDs = cloneStrings(l.ParentIDs)
	l.BOMID = strPtr(l.BOMID)
	l.SublocationID = strPtr(l.SublocationID)
	return l
}

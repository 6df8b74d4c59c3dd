package services

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"stockipv/server/internal/logger"
	"stockipv/server/internal/models"
	"stockipv/server/internal/repository"
)

// Catalog справочники для первичного заполнения (YAML). Записи ссылаются
// друг на друга по ключу key; после загрузки Refs[key] содержит ID записи.
type Catalog struct {
	UoMs       []catalogUoM       `yaml:"uoms"`
	Locations  []catalogLocation  `yaml:"locations"`
	Products   []catalogProduct   `yaml:"products"`
	BOMs       []catalogBOM       `yaml:"boms"`
	Workplaces []catalogWorkplace `yaml:"workplaces"`
	Quants     []catalogQuant     `yaml:"quants"`
	Users      []catalogUser      `yaml:"users"`

	Refs map[string]string `yaml:"-"`
}

type catalogUoM struct {
	Key      string          `yaml:"key"`
	Name     string          `yaml:"name"`
	Category string          `yaml:"category"`
	Factor   decimal.Decimal `yaml:"factor"`
	Rounding decimal.Decimal `yaml:"rounding"`
}

type catalogLocation struct {
	Key    string               `yaml:"key"`
	Name   string               `yaml:"name"`
	Parent string               `yaml:"parent"`
	Usage  models.LocationUsage `yaml:"usage"`
}

type catalogProduct struct {
	Key            string             `yaml:"key"`
	Name           string             `yaml:"name"`
	Code           string             `yaml:"code"`
	Type           models.ProductType `yaml:"type"`
	UoM            string             `yaml:"uom"`
	AvailableInPOS bool               `yaml:"available_in_pos"`
	ElaborationLoc string             `yaml:"elaboration_loc"`
	Workplaces     []string           `yaml:"workplaces"`
}

type catalogBOMLine struct {
	Product string          `yaml:"product"`
	Qty     decimal.Decimal `yaml:"qty"`
	UoM     string          `yaml:"uom"`
}

type catalogBOM struct {
	Key      string           `yaml:"key"`
	Product  string           `yaml:"product"`
	Qty      decimal.Decimal  `yaml:"qty"`
	UoM      string           `yaml:"uom"`
	Type     models.BOMType   `yaml:"type"`
	Sequence int              `yaml:"sequence"`
	Lines    []catalogBOMLine `yaml:"lines"`
}

type catalogWorkplace struct {
	Key            string   `yaml:"key"`
	Name           string   `yaml:"name"`
	StockLoc       string   `yaml:"stock_loc"`
	ElaborationLoc string   `yaml:"elaboration_loc"`
	SalesLoc       string   `yaml:"sales_loc"`
	Products       []string `yaml:"products"`
}

type catalogQuant struct {
	Product  string          `yaml:"product"`
	Location string          `yaml:"location"`
	Qty      decimal.Decimal `yaml:"qty"`
}

type catalogUser struct {
	Key      string          `yaml:"key"`
	Login    string          `yaml:"login"`
	Name     string          `yaml:"name"`
	Password string          `yaml:"password"`
	Role     models.UserRole `yaml:"role"`
}

// ParseCatalog читает каталог из YAML
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("ошибка разбора каталога: %w", err)
	}
	return &c, nil
}

// LoadCatalogFile читает и загружает каталог из файла
func LoadCatalogFile(ctx context.Context, store repository.Store, path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия каталога %s: %w", path, err)
	}
	defer f.Close()

	c, err := ParseCatalog(f)
	if err != nil {
		return nil, err
	}
	if err := c.Load(ctx, store); err != nil {
		return nil, err
	}
	logger.Log.Infof("✅ Каталог %s загружен: товаров %d, спецификаций %d, рабочих мест %d",
		path, len(c.Products), len(c.BOMs), len(c.Workplaces))
	return c, nil
}

func (c *Catalog) ref(kind, key string) (string, error) {
	id, ok := c.Refs[key]
	if !ok {
		return "", fmt.Errorf("каталог: %s %q не найден", kind, key)
	}
	return id, nil
}

func (c *Catalog) optRef(kind, key string) (*string, error) {
	if key == "" {
		return nil, nil
	}
	id, err := c.ref(kind, key)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (c *Catalog) refs(kind string, keys []string) (pq.StringArray, error) {
	out := make(pq.StringArray, 0, len(keys))
	for _, k := range keys {
		id, err := c.ref(kind, k)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// Load записывает каталог в хранилище одной транзакцией
func (c *Catalog) Load(ctx context.Context, store repository.Store) error {
	c.Refs = make(map[string]string)
	return store.WithinTx(ctx, func(tx repository.Store) error {
		for _, u := range c.UoMs {
			m := &models.UoM{Name: u.Name, Category: u.Category, Factor: u.Factor, Rounding: u.Rounding, IsActive: true}
			if m.Factor.IsZero() {
				m.Factor = decimal.NewFromInt(1)
			}
			if m.Rounding.IsZero() {
				m.Rounding = decimal.New(1, -3)
			}
			if err := tx.SaveUoM(ctx, m); err != nil {
				return err
			}
			c.Refs[u.Key] = m.ID
		}

		// Родитель должен быть описан раньше дочерней локации
		for _, l := range c.Locations {
			parent, err := c.optRef("локация", l.Parent)
			if err != nil {
				return err
			}
			usage := l.Usage
			if usage == "" {
				usage = models.UsageInternal
			}
			m := &models.Location{Name: l.Name, ParentID: parent, Usage: usage, IsActive: true}
			if err := tx.SaveLocation(ctx, m); err != nil {
				return err
			}
			c.Refs[l.Key] = m.ID
		}

		var restricted []catalogProduct
		for _, p := range c.Products {
			uom, err := c.ref("единица", p.UoM)
			if err != nil {
				return err
			}
			elab, err := c.optRef("локация", p.ElaborationLoc)
			if err != nil {
				return err
			}
			typ := p.Type
			if typ == "" {
				typ = models.ProductStorable
			}
			m := &models.Product{
				Name: p.Name, DefaultCode: p.Code, Type: typ, UoMID: uom,
				AvailableInPOS: p.AvailableInPOS, ElaborationLocID: elab, IsActive: true,
			}
			if err := tx.SaveProduct(ctx, m); err != nil {
				return err
			}
			c.Refs[p.Key] = m.ID
			if len(p.Workplaces) > 0 {
				restricted = append(restricted, p)
			}
		}

		for _, b := range c.BOMs {
			product, err := c.ref("товар", b.Product)
			if err != nil {
				return err
			}
			uom, err := c.ref("единица", b.UoM)
			if err != nil {
				return err
			}
			typ := b.Type
			if typ == "" {
				typ = models.BOMNormal
			}
			m := &models.BOM{ProductID: product, ProductQty: b.Qty, UoMID: uom, Type: typ, Sequence: b.Sequence, IsActive: true}
			for i, l := range b.Lines {
				comp, err := c.ref("товар", l.Product)
				if err != nil {
					return err
				}
				luom, err := c.ref("единица", l.UoM)
				if err != nil {
					return err
				}
				m.Lines = append(m.Lines, models.BOMLine{ProductID: comp, ProductQty: l.Qty, UoMID: luom, Sequence: (i + 1) * 10})
			}
			if err := tx.SaveBOM(ctx, m); err != nil {
				return err
			}
			if b.Key != "" {
				c.Refs[b.Key] = m.ID
			}
		}

		for _, w := range c.Workplaces {
			m := &models.Workplace{Name: w.Name, IsActive: true}
			var err error
			if m.StockLocID, err = c.ref("локация", w.StockLoc); err != nil {
				return err
			}
			if m.ElaborationLocID, err = c.ref("локация", w.ElaborationLoc); err != nil {
				return err
			}
			if m.SalesLocID, err = c.ref("локация", w.SalesLoc); err != nil {
				return err
			}
			if m.ProductIDs, err = c.refs("товар", w.Products); err != nil {
				return err
			}
			if err := tx.SaveWorkplace(ctx, m); err != nil {
				return err
			}
			c.Refs[w.Key] = m.ID
		}

		// Ограничения товаров по рабочим местам - после создания рабочих мест
		for _, p := range restricted {
			m, err := tx.GetProduct(ctx, c.Refs[p.Key])
			if err != nil {
				return err
			}
			if m.WorkplaceIDs, err = c.refs("рабочее место", p.Workplaces); err != nil {
				return err
			}
			if err := tx.SaveProduct(ctx, m); err != nil {
				return err
			}
		}

		for _, q := range c.Quants {
			product, err := c.ref("товар", q.Product)
			if err != nil {
				return err
			}
			loc, err := c.ref("локация", q.Location)
			if err != nil {
				return err
			}
			if err := tx.SaveQuant(ctx, &models.Quant{ProductID: product, LocationID: loc, Quantity: q.Qty}); err != nil {
				return err
			}
		}

		for _, u := range c.Users {
			hash, err := HashPassword(u.Password)
			if err != nil {
				return err
			}
			m := &models.User{Login: u.Login, Name: u.Name, PasswordHash: hash, Role: u.Role, IsActive: true}
			if err := tx.SaveUser(ctx, m); err != nil {
				return err
			}
			if u.Key != "" {
				c.Refs[u.Key] = m.ID
			}
		}
		return nil
	})
}
